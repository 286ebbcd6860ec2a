package processor

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"recruit-radar/internal/model"

	"gorm.io/datatypes"
)

// Config 描述清洗规则配置。
type Config struct {
	OngoingOnly bool   `yaml:"ongoing_only" json:"ongoing_only"`
	Source      string `yaml:"source" json:"source"`
}

// ResultOutcome 指示处理结果。
type ResultOutcome string

const (
	ResultAccepted ResultOutcome = "accepted"
	ResultRejected ResultOutcome = "rejected"
)

// Result 包含处理结果与输出。
type Result struct {
	Outcome ResultOutcome
	Job     *model.Job
	Reason  string
}

// Accepted 报告记录是否通过校验。
func (r Result) Accepted() bool {
	return r.Outcome == ResultAccepted && r.Job != nil
}

// 上游雇佣形态与招聘类别代码表，未知代码原样透传。
var employmentTypes = map[string]string{
	"R1010": "정규직",
	"R1020": "계약직",
	"R1030": "무기계약직",
	"R1040": "비정규직",
	"R1050": "청년인턴",
	"R1060": "청년인턴(체험형)",
	"R1070": "청년인턴(채용형)",
}

var recruitTypes = map[string]string{
	"R2010": "신입",
	"R2020": "경력",
	"R2030": "신입+경력",
	"R2040": "외국인 전형",
}

var nonDigitRe = regexp.MustCompile(`[^\d]`)

// Processor 把上游记录映射为规范化的 Job。
type Processor struct {
	cfg    Config
	logger *log.Logger
}

// New 创建 Processor。
func New(cfg Config, logger *log.Logger) *Processor {
	if cfg.Source == "" {
		cfg.Source = model.SourceMOEF
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[processor] ", log.LstdFlags)
	}
	return &Processor{cfg: cfg, logger: logger}
}

// Map 执行字段映射与校验，idx 或标题为空时拒绝。
func (p *Processor) Map(raw model.RawPosting) Result {
	idx := strings.TrimSpace(raw.RecrutPblntSn)
	title := CleanText(raw.RecrutPbancTtl)
	if idx == "" {
		return Result{Outcome: ResultRejected, Reason: "missing idx"}
	}
	if title == "" {
		return Result{Outcome: ResultRejected, Reason: "missing title"}
	}
	if p.cfg.OngoingOnly {
		if flag := strings.TrimSpace(raw.OngoingYn); flag != "" && !strings.EqualFold(flag, "Y") {
			return Result{Outcome: ResultRejected, Reason: "closed posting"}
		}
	}

	regDate := p.date(idx, "reg_date", raw.PbancBgngYmd)
	endDate := p.date(idx, "end_date", raw.PbancEndYmd)
	ncs := CleanText(raw.NcsCdNmLst)

	job := model.Job{
		IDX:            idx,
		Title:          title,
		DeptName:       CleanText(raw.InstNm),
		WorkRegion:     CleanText(raw.WorkRgnNmLst),
		EmploymentType: MapEmploymentType(raw.HireTypeNmLst),
		RecruitType:    MapRecruitType(raw.RecrutSeNm),
		RecruitNum:     ParseRecruitNum(raw.RecrutNope),
		NCSCategory:    ncs,
		WorkField:      ncs,
		Education:      CleanText(raw.AcbgCondNmLst),
		SalaryInfo:     model.DefaultSalaryInfo,
		Preference:     CleanText(raw.PrefCondCn),
		DetailContent:  CleanText(raw.AplyQlfcCn),
		SrcURL:         strings.TrimSpace(raw.SrcURL),
		RegDate:        regDate,
		EndDate:        endDate,
		Status:         model.StatusActive,
		Source:         p.cfg.Source,
		RawPayload:     raw.Payload,
	}
	if regDate != "" && endDate != "" {
		job.RecruitPeriod = regDate + " ~ " + endDate
	}
	if job.RawPayload == nil {
		job.RawPayload = datatypes.JSONMap{}
	}
	return Result{Outcome: ResultAccepted, Job: &job}
}

func (p *Processor) date(idx, field, raw string) string {
	d, ok := NormalizeDate(raw)
	if !ok && strings.TrimSpace(raw) != "" {
		p.logger.Printf("warn: unparseable date idx=%s field=%s raw=%q", idx, field, raw)
	}
	return d
}

// MapEmploymentType 将上游雇佣形态代码转换为显示标签。
func MapEmploymentType(code string) string {
	code = strings.TrimSpace(code)
	if label, ok := employmentTypes[code]; ok {
		return label
	}
	return code
}

// MapRecruitType 将上游招聘类别代码转换为显示标签。
func MapRecruitType(code string) string {
	code = strings.TrimSpace(code)
	if label, ok := recruitTypes[code]; ok {
		return label
	}
	return code
}

// ParseRecruitNum 只保留数字后解析，失败或为空时返回 1。
func ParseRecruitNum(raw string) int {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if digits == "" {
		return 1
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 1
	}
	return n
}
