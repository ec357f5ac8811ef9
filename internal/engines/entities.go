package engines

import (
	"regexp"
	"strings"
)

// Entities are concrete references found in a query.
type Entities struct {
	Hosts       []string `json:"hosts,omitempty"`
	IPs         []string `json:"ips,omitempty"`
	Percentages []string `json:"percentages,omitempty"`
	Windows     []string `json:"windows,omitempty"`
}

var (
	ipPattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	hostPattern    = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:[-.][a-z0-9]+)*-?\d+[a-z0-9]*\b`)
	percentPattern = regexp.MustCompile(`\d+(?:\.\d+)?%`)
	windowPattern  = regexp.MustCompile(`\b\d+\s?(?:m|min|h|hours?|d|days?|w|weeks?)\b|\d+\s?(?:분|시간|일|주)`)

	// Alphanumeric terms that look like host names but are not.
	notHosts = map[string]bool{
		"k8s": true, "k3s": true, "s3": true, "ec2": true, "http2": true, "ipv4": true, "ipv6": true,
		"p50": true, "p90": true, "p95": true, "p99": true, "utf8": true, "sha256": true, "md5": true,
	}
)

// ExtractEntities finds host names, IP addresses, percentages and time
// windows in normalized query text.
func ExtractEntities(normalized string) Entities {
	text := strings.ToLower(normalized)
	e := Entities{
		IPs:         unique(ipPattern.FindAllString(text, -1)),
		Percentages: unique(percentPattern.FindAllString(text, -1)),
		Windows:     unique(windowPattern.FindAllString(text, -1)),
	}
	window := make(map[string]bool, len(e.Windows))
	for _, w := range e.Windows {
		window[strings.ReplaceAll(w, " ", "")] = true
	}
	var hosts []string
	for _, h := range hostPattern.FindAllString(ipPattern.ReplaceAllString(text, " "), -1) {
		if window[h] || notHosts[h] {
			continue
		}
		hosts = append(hosts, h)
	}
	e.Hosts = unique(hosts)
	return e
}

// Empty reports whether no entity was found.
func (e Entities) Empty() bool {
	return len(e.Hosts)+len(e.IPs)+len(e.Percentages)+len(e.Windows) == 0
}

// Instance returns the most specific instance reference, host before IP.
func (e Entities) Instance() string {
	if len(e.Hosts) > 0 {
		return e.Hosts[0]
	}
	if len(e.IPs) > 0 {
		return e.IPs[0]
	}
	return ""
}

func unique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
