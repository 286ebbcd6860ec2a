package notifier

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"recruit-radar/internal/model"
)

// maxListed 单封邮件最多列出的公告数。
const maxListed = 50

// EmailConfig 邮件配置。
type EmailConfig struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
	Subject  string   `yaml:"subject" json:"subject"`
}

// EmailMessage 表示一封邮件。
type EmailMessage struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// EmailSender 抽象发送接口，便于测试替换。
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPClient 封装 SMTP 发送。
type SMTPClient struct {
	addr string
	auth smtp.Auth
}

func NewSMTPClient(cfg EmailConfig) *SMTPClient {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPClient{addr: addr, auth: auth}
}

func (c *SMTPClient) Send(ctx context.Context, msg EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(c.addr, c.auth, msg.From, msg.To, []byte(buildEmailData(msg))); err != nil {
		return fmt.Errorf("send mail via %s: %w", c.addr, err)
	}
	return nil
}

// EmailNotifier 把新增公告汇总成一封邮件。
type EmailNotifier struct {
	cfg    EmailConfig
	sender EmailSender
}

// NewEmailNotifier 创建 EmailNotifier。
func NewEmailNotifier(cfg EmailConfig, sender EmailSender) *EmailNotifier {
	if sender == nil {
		sender = NewSMTPClient(cfg)
	}
	if cfg.Subject == "" {
		cfg.Subject = "신규 공공기관 채용공고"
	}
	return &EmailNotifier{cfg: cfg, sender: sender}
}

// Notify 发送新增公告邮件，列表为空或没有收件人时跳过。
func (n EmailNotifier) Notify(ctx context.Context, jobs []model.Job) error {
	if len(jobs) == 0 || len(n.cfg.To) == 0 {
		return nil
	}

	msg := EmailMessage{
		From:    n.cfg.From,
		To:      n.cfg.To,
		Subject: fmt.Sprintf("%s (%d)", n.cfg.Subject, len(jobs)),
		Body:    buildBody(jobs),
	}
	return n.sender.Send(ctx, msg)
}

func buildBody(jobs []model.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New postings: %d\n\n", len(jobs))
	for i, j := range jobs {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(jobs)-maxListed)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s (%s, %s ~ %s)\n  %s\n", j.DeptName, j.Title, j.EmploymentType, j.RegDate, j.EndDate, j.SrcURL)
	}
	return b.String()
}

func buildEmailData(msg EmailMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
