package emailsvc

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
)

func welcomeMessage(t *testing.T) *core.EmailMessage {
	t.Helper()
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: "Ravi", Address: "ravi@test.in"}},
		Cc:           []mail.Address{{Address: "cc@test.in"}},
		Subject:      "Welcome",
		TemplateName: "welcome",
		TemplateData: map[string]interface{}{
			"Owner":    "Ravi",
			"School":   "Alpha Classes",
			"Username": "alpha",
			"Link":     "http://edusmart.test/?schoolId=s1",
		},
	}
	require.NoError(t, msg.Attach(strings.NewReader("png"), "magic-link.png", "image/png"))
	return msg
}

func TestConsoleService(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewConsoleServiceMock(conf)

	svc.SendMessages(welcomeMessage(t), &core.EmailMessage{Subject: "no recipients", BodyStr: "hi"})

	sent := svc.Sent()
	require.Len(t, sent, 1, "messages without recipients are skipped")
	assert.Contains(t, sent[0].TextContent, "http://edusmart.test/?schoolId=s1")
	assert.Contains(t, sent[0].HTMLContent, "Alpha Classes")
	require.Len(t, sent[0].Attachments, 1)

	require.NoError(t, svc.send(sent[0]))
	assert.Equal(t, `"Ravi" <ravi@test.in>, <cc@test.in>`, joinAddresses(append(sent[0].To, sent[0].Cc...)))
}

func TestSendgridService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewSendgridService(conf, core.NopLogger{})

	msg := welcomeMessage(t)
	require.NoError(t, msg.Render(conf))
	m := svc.prepare(*msg)

	assert.Equal(t, "noreply@edusmart.test", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[EduSmart] Welcome", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "ravi@test.in", p.To[0].Address)
	require.Len(t, p.CC, 1)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "text/html", m.Content[1].Type)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "magic-link.png", m.Attachments[0].Filename)
	assert.Equal(t, "attachment", m.Attachments[0].Disposition)
}
