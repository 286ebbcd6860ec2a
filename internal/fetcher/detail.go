package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"recruit-radar/internal/model"
	"recruit-radar/internal/timeutil"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DetailConfig 定义详情页抓取配置。
type DetailConfig struct {
	URLTemplate string `yaml:"url_template" json:"url_template"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
	Timeout     string `yaml:"timeout" json:"timeout"`
	Delay       string `yaml:"delay" json:"delay"`
}

// DetailPage 是一次详情页抓取的结果。Content 为正文原文，未找到时为空。
type DetailPage struct {
	Attachments model.Attachments
	Content     string
}

// AttachmentExtractor 附件抽取接口，便于测试替换。
type AttachmentExtractor interface {
	Extract(ctx context.Context, idx string) (DetailPage, error)
}

// 附件表格与分类标记。
var (
	tableMarkers      = []string{"첨부파일", "공고문", "지원서"}
	announcementMarks = []string{"공고문"}
	applicationMarks  = []string{"입사지원서", "지원서"}
	jobDescMarks      = []string{"직무기술서", "직무"}
	reasonMarks       = []string{"미접수사유", "미첨부"}

	// 正文区域按顺序尝试，第一个文本足够长的元素胜出。
	contentSelectors = []contentSelector{
		{"div", classContains("content")},
		{"div", hasClass("recruitView_left")},
		{"div", hasClass("recruit_view_left")},
		{"div", hasClass("detail_content")},
		{"div", hasClass("content_left")},
		{"div", hasClass("left_content")},
		{"", hasClass("recruitview_left")},
		{"", hasClass("recruit-view-left")},
		{"div", classContains("left")},
		{"div", classContains("detail")},
	}

	fileNoRe = regexp.MustCompile(`fileNo=([^&]+)`)
	fileIDRe = regexp.MustCompile(`fileID=([^&]+)`)
)

// DetailExtractor 抓取详情页并把附件归类到固定槽位。
type DetailExtractor struct {
	urlTemplate string
	userAgent   string
	client      *resty.Client
	logger      *log.Logger
}

// NewDetailExtractor 创建详情页抽取器。
func NewDetailExtractor(cfg DetailConfig, httpClient *http.Client) *DetailExtractor {
	tpl := strings.TrimSpace(cfg.URLTemplate)
	if tpl == "" {
		tpl = "https://job.alio.go.kr/recruitview.do?idx=%s"
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client := resty.NewWithClient(httpClient).
		SetTimeout(timeutil.ParseDuration(cfg.Timeout, 15*time.Second)).
		SetHeaders(map[string]string{
			"User-Agent":      ua,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "ko-KR,ko;q=0.8,en-US;q=0.5,en;q=0.3",
		})
	return &DetailExtractor{
		urlTemplate: tpl,
		userAgent:   ua,
		client:      client,
		logger:      log.New(os.Stdout, "[detail] ", log.LstdFlags),
	}
}

// SetLogger 替换默认日志输出。
func (d *DetailExtractor) SetLogger(l *log.Logger) {
	if l != nil {
		d.logger = l
	}
}

// DetailURL 返回公告详情页地址。
func (d *DetailExtractor) DetailURL(idx string) string {
	return fmt.Sprintf(d.urlTemplate, idx)
}

// Extract 抓取并解析详情页。网络失败返回 ErrSourceUnavailable（稍后重试）；
// 页面解析完成但没有附件时返回 State=attempted_empty。
func (d *DetailExtractor) Extract(ctx context.Context, idx string) (DetailPage, error) {
	if strings.TrimSpace(idx) == "" {
		return DetailPage{}, fmt.Errorf("extract attachments: empty idx")
	}
	resp, err := d.client.R().SetContext(ctx).Get(d.DetailURL(idx))
	if err != nil {
		return DetailPage{}, fmt.Errorf("%w: detail page idx=%s: %v", ErrSourceUnavailable, idx, err)
	}
	if resp.IsError() {
		return DetailPage{}, fmt.Errorf("%w: detail page idx=%s status %d", ErrSourceUnavailable, idx, resp.StatusCode())
	}

	page, err := ParseDetail(resp.Body())
	if err != nil {
		return DetailPage{}, fmt.Errorf("%w: parse detail page idx=%s: %v", ErrSourceUnavailable, idx, err)
	}
	d.logger.Printf("idx=%s state=%s others=%d content=%d", idx, page.Attachments.State, len(page.Attachments.Others), utf8.RuneCountInString(page.Content))
	return page, nil
}

// ParseDetail 一次解析同时取出附件与正文。
func ParseDetail(body []byte) (DetailPage, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return DetailPage{}, fmt.Errorf("parse html: %w", err)
	}
	return DetailPage{Attachments: attachmentsFrom(root), Content: contentFrom(root)}, nil
}

// ParseAttachments 在最内层包含附件标记的表格中按行归类附件链接。
func ParseAttachments(body []byte) (model.Attachments, error) {
	page, err := ParseDetail(body)
	if err != nil {
		return model.Attachments{}, err
	}
	return page.Attachments, nil
}

func attachmentsFrom(root *html.Node) model.Attachments {
	att := model.Attachments{Others: []model.FileRef{}}

	// 附件表可能嵌在布局表格里，只取不再包含标记表格的那一层。
	marked := func(n *html.Node) bool {
		return isElement(n, "table") && containsAny(textContent(n), tableMarkers)
	}
	table := findNode(root, func(n *html.Node) bool {
		return marked(n) && len(findAll(n, marked)) == 0
	})
	if table != nil {
		for _, row := range tableRows(table) {
			classifyRow(&att, row)
		}
	}

	switch {
	case att.HasFiles():
		att.State = model.AttachmentsFound
	default:
		att.State = model.AttachmentsEmpty
	}
	return att
}

// tableRows 返回表格自身的行，不进入嵌套表格。
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	for c := table.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case isElement(c, "tr"):
			rows = append(rows, c)
		case isElement(c, "thead"), isElement(c, "tbody"), isElement(c, "tfoot"):
			for r := c.FirstChild; r != nil; r = r.NextSibling {
				if isElement(r, "tr") {
					rows = append(rows, r)
				}
			}
		}
	}
	return rows
}

const minContentLength = 50

type contentSelector struct {
	tag   string
	match func(class string) bool
}

func classContains(sub string) func(string) bool {
	return func(class string) bool { return strings.Contains(class, sub) }
}

func hasClass(name string) func(string) bool {
	return func(class string) bool {
		for _, c := range strings.Fields(class) {
			if c == name {
				return true
			}
		}
		return false
	}
}

// contentFrom 按选择器顺序查找正文，文本不足 minContentLength 个字符的元素跳过。
func contentFrom(root *html.Node) string {
	for _, sel := range contentSelectors {
		candidates := findAll(root, func(n *html.Node) bool {
			if n.Type != html.ElementNode || (sel.tag != "" && n.Data != sel.tag) {
				return false
			}
			class := attr(n, "class")
			return class != "" && sel.match(class)
		})
		for _, n := range candidates {
			if text := blockText(n); utf8.RuneCountInString(text) > minContentLength {
				return text
			}
		}
	}
	return ""
}

// blockText 以换行拼接非空文本节点，跳过脚本与样式。
func blockText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.ElementNode && (cur.Data == "script" || cur.Data == "style") {
			return
		}
		if cur.Type == html.TextNode {
			if t := strings.TrimSpace(cur.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}

func classifyRow(att *model.Attachments, row *html.Node) {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td") || isElement(c, "th") {
			cells = append(cells, c)
		}
	}
	if len(cells) < 2 {
		return
	}
	category := textContent(cells[0])
	fileCell := cells[1]

	for _, a := range findAll(fileCell, func(n *html.Node) bool { return isElement(n, "a") }) {
		href := attr(a, "href")
		fileID := extractFileID(href)
		if fileID == "" {
			continue
		}
		ref := model.FileRef{FileID: fileID, Name: textContent(a)}
		switch {
		case containsAny(category, announcementMarks):
			ref.Type = model.FileTypeAnnouncement
			att.Announcement = &ref
		case containsAny(category, applicationMarks):
			ref.Type = model.FileTypeApplication
			att.Application = &ref
		case containsAny(category, jobDescMarks):
			ref.Type = model.FileTypeJobDescription
			att.JobDescription = &ref
		default:
			ref.Type = model.FileTypeOther
			att.Others = append(att.Others, ref)
		}
	}

	if containsAny(category, reasonMarks) {
		if reason := textContent(fileCell); utf8.RuneCountInString(reason) > 3 {
			att.UnavailableReason = reason
		}
	}
}

// extractFileID 依次查找 fileNo= 与 fileID=，都没有但链接含 download 时返回整个链接。
func extractFileID(href string) string {
	for _, re := range []*regexp.Regexp{fileNoRe, fileIDRe} {
		if m := re.FindStringSubmatch(href); len(m) == 2 {
			return m[1]
		}
	}
	if strings.Contains(strings.ToLower(href), "download") {
		return href
	}
	return ""
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if match(cur) {
			out = append(out, cur)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// textContent 拼接去除首尾空白后的文本节点。
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(cur.Data))
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
