package provider

import (
	"bytes"
	_ "embed"
	"fmt"
	"path"
	"strings"
	"text/template"
)

//go:embed cloudinit.tmpl
var cloudInitTmpl string

var cloudInit = template.Must(template.New("cloud-init").Parse(cloudInitTmpl))

// CloudInit is the host-side configuration baked into a new instance.
type CloudInit struct {
	AgentImage        string
	AgentInternalPort int
	BotImage          string
	Container         string
	SignalPath        string
	UpdateSecret      string
	SSHCAPublicKey    string
}

// Render returns the #cloud-config document for c.
func (c CloudInit) Render() (string, error) {
	if c.AgentImage == "" || c.BotImage == "" || c.SignalPath == "" {
		return "", fmt.Errorf("cloud-init needs agent image, bot image and signal path")
	}
	if c.AgentInternalPort == 0 {
		c.AgentInternalPort = 8080
	}
	if c.Container == "" {
		c.Container = "tradingbot"
	}
	c.SSHCAPublicKey = strings.TrimSpace(c.SSHCAPublicKey)

	var buf bytes.Buffer
	err := cloudInit.Execute(&buf, struct {
		CloudInit
		DataDir string
	}{c, path.Dir(c.SignalPath)})
	if err != nil {
		return "", fmt.Errorf("render cloud-init: %w", err)
	}
	return buf.String(), nil
}
