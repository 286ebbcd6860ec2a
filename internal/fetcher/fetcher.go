package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"recruit-radar/internal/model"
	"recruit-radar/internal/timeutil"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
)

// ErrSourceUnavailable 表示上游接口或详情页不可用，只能等下一次调度重试。
var ErrSourceUnavailable = errors.New("source unavailable")

// Config 定义上游接口抓取配置。
type Config struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	ServiceKey string `yaml:"service_key" json:"-"`
	PageSize   int    `yaml:"page_size" json:"page_size"`
	MaxPages   int    `yaml:"max_pages" json:"max_pages"`
	MinDelay   string `yaml:"min_delay" json:"min_delay"`
	MaxDelay   string `yaml:"max_delay" json:"max_delay"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// StopReason 说明分页为何结束。
type StopReason string

const (
	StopEmptyPage StopReason = "empty_page"
	StopShortPage StopReason = "short_page"
	StopMaxPages  StopReason = "max_pages"
	StopError     StopReason = "error"
	StopVisitor   StopReason = "visitor"
)

// Page 是一页上游结果。
type Page struct {
	Number     int
	TotalCount int
	Records    []model.RawPosting
}

// Summary 汇总一次分页抓取。
type Summary struct {
	Pages   int
	Records int
	Stop    StopReason
	Err     error
}

// PageVisitor 处理一页数据，返回 false 时停止继续翻页。
type PageVisitor func(ctx context.Context, page Page) bool

// PageFetcher 分页抓取统一接口。
type PageFetcher interface {
	FetchPages(ctx context.Context, maxPages int, visit PageVisitor) Summary
}

// APIFetcher 调用公共数据门户的分页招聘接口。
type APIFetcher struct {
	cfg      Config
	client   *resty.Client
	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *log.Logger
}

// NewAPIFetcher 创建上游抓取器，httpClient 为空时使用默认客户端。
func NewAPIFetcher(cfg Config, httpClient *http.Client) *APIFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://apis.data.go.kr/1051000/recruitment/list"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	timeout := timeutil.ParseDuration(cfg.Timeout, 30*time.Second)
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client := resty.NewWithClient(httpClient).SetTimeout(timeout)

	minDelay := timeutil.ParseDuration(cfg.MinDelay, 500*time.Millisecond)
	maxDelay := timeutil.ParseDuration(cfg.MaxDelay, 1500*time.Millisecond)
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &APIFetcher{
		cfg:      cfg,
		client:   client,
		minDelay: minDelay,
		maxDelay: maxDelay,
		sleep:    timeutil.Sleep,
		logger:   log.New(os.Stdout, "[fetcher] ", log.LstdFlags),
	}
}

// SetLogger 替换默认日志输出。
func (f *APIFetcher) SetLogger(l *log.Logger) {
	if l != nil {
		f.logger = l
	}
}

// FetchPages 逐页调用上游接口，遇到空页、不足一页、达到页数上限或请求失败时停止。
// 失败只会终止后续翻页，已经交给 visit 的页面仍然有效。
func (f *APIFetcher) FetchPages(ctx context.Context, maxPages int, visit PageVisitor) Summary {
	if maxPages <= 0 {
		maxPages = f.cfg.MaxPages
	}
	sum := Summary{Stop: StopMaxPages}

	for pageNo := 1; pageNo <= maxPages; pageNo++ {
		if pageNo > 1 {
			if err := f.sleep(ctx, f.jitter()); err != nil {
				sum.Stop, sum.Err = StopError, err
				break
			}
		}

		page, err := f.FetchPage(ctx, pageNo)
		if err != nil {
			f.logger.Printf("page=%d fetch failed, keeping %d records: %v", pageNo, sum.Records, err)
			sum.Stop, sum.Err = StopError, err
			break
		}
		f.logger.Printf("page=%d records=%d total=%d", pageNo, len(page.Records), page.TotalCount)

		if len(page.Records) == 0 {
			sum.Stop = StopEmptyPage
			break
		}
		sum.Pages++
		sum.Records += len(page.Records)

		if !visit(ctx, page) {
			sum.Stop = StopVisitor
			break
		}
		if len(page.Records) < f.cfg.PageSize {
			sum.Stop = StopShortPage
			break
		}
	}

	f.logger.Printf("fetch done pages=%d records=%d stop=%s", sum.Pages, sum.Records, sum.Stop)
	return sum
}

// FetchAll 抓取至多 maxPages 页并返回全部记录，部分结果同样视为成功。
func (f *APIFetcher) FetchAll(ctx context.Context, maxPages int) ([]model.RawPosting, Summary) {
	var records []model.RawPosting
	sum := f.FetchPages(ctx, maxPages, func(_ context.Context, page Page) bool {
		records = append(records, page.Records...)
		return true
	})
	return records, sum
}

// FetchPage 请求单页数据。
func (f *APIFetcher) FetchPage(ctx context.Context, pageNo int) (Page, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"serviceKey": f.cfg.ServiceKey,
			"numOfRows":  strconv.Itoa(f.cfg.PageSize),
			"pageNo":     strconv.Itoa(pageNo),
			"returnType": "JSON",
		}).
		Get(f.cfg.BaseURL)
	if err != nil {
		return Page{}, fmt.Errorf("%w: http get: %v", ErrSourceUnavailable, err)
	}
	if resp.IsError() {
		return Page{}, fmt.Errorf("%w: unexpected status %d", ErrSourceUnavailable, resp.StatusCode())
	}
	return parsePage(pageNo, resp.Body())
}

func parsePage(pageNo int, body []byte) (Page, error) {
	if !gjson.ValidBytes(body) {
		return Page{}, fmt.Errorf("%w: invalid json body", ErrSourceUnavailable)
	}
	doc := gjson.ParseBytes(body)
	if code := doc.Get("resultCode"); code.Exists() && code.Int() != 200 {
		return Page{}, fmt.Errorf("%w: result code %s: %s", ErrSourceUnavailable, code.String(), doc.Get("resultMsg").String())
	}

	page := Page{Number: pageNo, TotalCount: int(doc.Get("totalCount").Int())}
	doc.Get("result").ForEach(func(_, item gjson.Result) bool {
		page.Records = append(page.Records, toRawPosting(item))
		return true
	})
	return page, nil
}

func toRawPosting(item gjson.Result) model.RawPosting {
	field := func(name string) string {
		v := item.Get(name)
		if v.Type == gjson.Null {
			return ""
		}
		return strings.TrimSpace(v.String())
	}
	payload := datatypes.JSONMap{}
	if m, ok := item.Value().(map[string]any); ok {
		payload = m
	}
	return model.RawPosting{
		RecrutPblntSn:  field("recrutPblntSn"),
		RecrutPbancTtl: field("recrutPbancTtl"),
		InstNm:         field("instNm"),
		WorkRgnNmLst:   field("workRgnNmLst"),
		HireTypeNmLst:  field("hireTypeNmLst"),
		RecrutSeNm:     field("recrutSeNm"),
		RecrutNope:     field("recrutNope"),
		NcsCdNmLst:     field("ncsCdNmLst"),
		AcbgCondNmLst:  field("acbgCondNmLst"),
		PrefCondCn:     field("prefCondCn"),
		AplyQlfcCn:     field("aplyQlfcCn"),
		SrcURL:         field("srcUrl"),
		PbancBgngYmd:   field("pbancBgngYmd"),
		PbancEndYmd:    field("pbancEndYmd"),
		OngoingYn:      field("ongoingYn"),
		Payload:        payload,
	}
}

func (f *APIFetcher) jitter() time.Duration {
	span := f.maxDelay - f.minDelay
	if span <= 0 {
		return f.minDelay
	}
	return f.minDelay + rand.N(span)
}
