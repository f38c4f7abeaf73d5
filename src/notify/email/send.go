package email

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/schemaflow/schemaflow/src/configs"
)

// SendEmail 通过配置的 SMTP 服务发送一封纯文本邮件
func SendEmail(subject, body string) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	n := cfg.Notify
	if !n.Enable {
		return fmt.Errorf("email notification is disabled")
	}

	from := n.From
	if from == "" {
		from = n.Username
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", n.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.SMTPHost, n.SMTPPort, n.Username, n.Password)
	return d.DialAndSend(m)
}
