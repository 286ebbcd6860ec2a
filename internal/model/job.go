package model

import (
	"time"

	"gorm.io/datatypes"
)

// 职位状态与来源常量。
const (
	StatusActive = "active"
	StatusClosed = "closed"

	SourceMOEF = "moef_api"

	DefaultSalaryInfo = "회사내규에 따름"
)

// Job 表示一条公共机构招聘公告
// - IDX: 上游分配的公告序号，唯一且作为主键
// - RegDate/EndDate: 规范化后的 YYYY-MM-DD 字符串，便于按字典序范围查询
// - Attachments: 附件信息，nil 表示尚未采集
// - RawPayload: 上游原始记录，仅存档不对外输出
// - CreatedAt/UpdatedAt: 由 GORM 自动维护
type Job struct {
	IDX            string            `gorm:"primaryKey;column:idx" json:"idx"`
	Title          string            `json:"title"`
	DeptName       string            `gorm:"index" json:"dept_name"`
	WorkRegion     string            `json:"work_region"`
	EmploymentType string            `gorm:"index" json:"employment_type"`
	RecruitType    string            `json:"recruit_type"`
	RecruitNum     int               `json:"recruit_num"`
	NCSCategory    string            `gorm:"column:ncs_category" json:"ncs_category"`
	WorkField      string            `json:"work_field"`
	Education      string            `json:"education"`
	SalaryInfo     string            `json:"salary_info"`
	Preference     string            `json:"preference"`
	DetailContent  string            `gorm:"type:text" json:"detail_content"`
	SrcURL         string            `gorm:"column:src_url" json:"src_url"`
	RegDate        string            `gorm:"index" json:"reg_date"`
	EndDate        string            `gorm:"index" json:"end_date"`
	RecruitPeriod  string            `json:"recruit_period,omitempty"`
	Status         string            `gorm:"index;default:active" json:"status"`
	Source         string            `json:"source"`
	Attachments    *Attachments      `gorm:"serializer:json" json:"attachments,omitempty"`
	RawPayload     datatypes.JSONMap `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NeedsAttachmentUpdate 判断是否需要（重新）采集附件。
func (j Job) NeedsAttachmentUpdate() bool {
	return j.Attachments.NeedsCollection()
}

// RawPosting 是上游接口返回的单条原始记录，字段沿用上游命名。
type RawPosting struct {
	RecrutPblntSn  string
	RecrutPbancTtl string
	InstNm         string
	WorkRgnNmLst   string
	HireTypeNmLst  string
	RecrutSeNm     string
	RecrutNope     string
	NcsCdNmLst     string
	AcbgCondNmLst  string
	PrefCondCn     string
	AplyQlfcCn     string
	SrcURL         string
	PbancBgngYmd   string
	PbancEndYmd    string
	OngoingYn      string
	Payload        datatypes.JSONMap
}

// RunLease 用于跨进程互斥，同一时间只允许一个采集任务持有。
type RunLease struct {
	Name      string `gorm:"primaryKey"`
	Owner     string
	ExpiresAt time.Time
	UpdatedAt time.Time
}
