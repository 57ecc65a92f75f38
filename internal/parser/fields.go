package parser

import (
	"strconv"
	"strings"
)

// ConnKind is the normalized value of a CONN record's "conn" field.
type ConnKind string

const (
	ConnOpen    ConnKind = "open"
	ConnClose   ConnKind = "close"
	ConnBlocked ConnKind = "blocked"
	ConnReject  ConnKind = "reject"
)

// ConnFields is the subset of a CONN record's key=value pairs the flow
// reconstructor needs.
type ConnFields struct {
	Conn        ConnKind
	Proto       string
	SrcIP       string
	SrcPort     int
	SrcMAC      string
	SrcZone     string
	SrcIf       string
	DstIP       string
	DstPort     int
	DstMAC      string
	DstZone     string
	DstIf       string
	XlatSrcIP   string
	XlatSrcPort int
	XlatDstIP   string
	XlatDstPort int
	BytesOrig   int64
	BytesTerm   int64
	Rule        string
	AppName     string
}

// ExtractConnFields reads CONN-specific fields out of a record's raw kv map.
func ExtractConnFields(kv map[string]string) ConnFields {
	conn := strings.ToLower(strings.TrimSpace(kv["conn"]))
	switch conn {
	case "blocked":
		conn = string(ConnBlocked)
	case "reject", "drop", "deny":
		conn = string(ConnReject)
	case "open":
		conn = string(ConnOpen)
	case "close":
		conn = string(ConnClose)
	}
	return ConnFields{
		Conn:        ConnKind(conn),
		Proto:       kv["connipproto"],
		SrcIP:       kv["connsrcip"],
		SrcPort:     atoi(kv["connsrcport"]),
		SrcMAC:      NormalizeMAC(kv["connsrcmac"]),
		SrcZone:     kv["connrecvzone"],
		SrcIf:       kv["connrecvif"],
		DstIP:       kv["conndestip"],
		DstPort:     atoi(kv["conndestport"]),
		DstMAC:      NormalizeMAC(kv["conndestmac"]),
		DstZone:     kv["conndestzone"],
		DstIf:       kv["conndestif"],
		XlatSrcIP:   kv["connnewsrcip"],
		XlatSrcPort: atoi(kv["connnewsrcport"]),
		XlatDstIP:   kv["connnewdestip"],
		XlatDstPort: atoi(kv["connnewdestport"]),
		BytesOrig:   atoi64(kv["origsent"]),
		BytesTerm:   atoi64(kv["termsent"]),
		Rule:        firstNonEmpty(kv["rule"], kv["satsrcrule"], kv["satdestrule"]),
		AppName:     kv["app_name"],
	}
}

// DeviceFields is the subset of a DEVICE record's key=value pairs the
// identity resolver needs.
type DeviceFields struct {
	MAC      string
	IP       string
	Vendor   string
	HWType   string
	OSType   string
	Hostname string
	Brand    string
	Model    string
}

// ExtractDeviceFields reads DEVICE-specific fields out of a record's raw kv map.
func ExtractDeviceFields(kv map[string]string) DeviceFields {
	return DeviceFields{
		MAC:      NormalizeMAC(kv["srcmac"]),
		IP:       firstNonEmpty(kv["device_ip4"], kv["deviceip4"]),
		Vendor:   firstNonEmpty(kv["device_vendor"], kv["devicevendor"]),
		HWType:   firstNonEmpty(kv["device_type_name"], kv["devicetypename"]),
		OSType:   firstNonEmpty(kv["device_os"], kv["deviceos"]),
		Hostname: kv["hostname"],
		Brand:    firstNonEmpty(kv["device_brand"], kv["devicebrand"]),
		Model:    firstNonEmpty(kv["device_model"], kv["devicemodel"]),
	}
}

// NormalizeMAC converts colon, hyphen, dot-separated or bare-hex MACs to
// uppercase AA-BB-CC-DD-EE-FF form. Invalid or empty input returns "" for
// empty and falls back to a best-effort uppercased string otherwise.
func NormalizeMAC(mac string) string {
	if mac == "" {
		return ""
	}
	cleaned := strings.ToUpper(strings.TrimSpace(mac))
	cleaned = strings.NewReplacer(":", "", "-", "", ".", "").Replace(cleaned)
	if cleaned == "" {
		return ""
	}
	if len(cleaned) != 12 || !isHex(cleaned) {
		fallback := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(mac)), ":", "-")
		return fallback
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String()
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(leadingDigits(s))
	if err != nil {
		return 0
	}
	return n
}

func atoi64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(leadingDigits(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "0"
	}
	return s[:i]
}
