package remediation

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

const pytestSection = "pytest"

func loadIni(content string) (*ini.File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing test config: %w", err)
	}
	return cfg, nil
}

func pytestSectionOf(cfg *ini.File) (*ini.Section, error) {
	if sec, err := cfg.GetSection(pytestSection); err == nil {
		return sec, nil
	}
	return cfg.NewSection(pytestSection)
}

func writeIni(cfg *ini.File) (string, error) {
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("writing test config: %w", err)
	}
	return buf.String(), nil
}

// RaiseTestTimeout sets the [pytest] timeout to at least seconds, creating
// the section or key as needed. changed is false when the configured
// timeout is already that high.
func RaiseTestTimeout(content string, seconds int) (out string, changed bool, err error) {
	cfg, err := loadIni(content)
	if err != nil {
		return "", false, err
	}
	sec, err := pytestSectionOf(cfg)
	if err != nil {
		return "", false, err
	}
	if sec.HasKey("timeout") {
		if cur, perr := strconv.Atoi(strings.TrimSpace(sec.Key("timeout").String())); perr == nil && cur >= seconds {
			return content, false, nil
		}
	}
	sec.Key("timeout").SetValue(strconv.Itoa(seconds))
	out, err = writeIni(cfg)
	return out, err == nil, err
}

// EnableReruns appends "--reruns N --reruns-delay D" to [pytest] addopts
// unless reruns are already configured.
func EnableReruns(content string, reruns, delaySeconds int) (out string, changed bool, err error) {
	cfg, err := loadIni(content)
	if err != nil {
		return "", false, err
	}
	sec, err := pytestSectionOf(cfg)
	if err != nil {
		return "", false, err
	}
	var opts string
	if sec.HasKey("addopts") {
		opts = strings.TrimSpace(sec.Key("addopts").String())
	}
	if strings.Contains(opts, "--reruns") {
		return content, false, nil
	}
	flags := fmt.Sprintf("--reruns %d --reruns-delay %d", reruns, delaySeconds)
	if opts != "" {
		flags = opts + " " + flags
	}
	sec.Key("addopts").SetValue(flags)
	out, err = writeIni(cfg)
	return out, err == nil, err
}
