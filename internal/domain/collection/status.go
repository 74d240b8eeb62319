package collection

import "github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"

// FormatStatus renders a response status as a string. The most common codes
// are constants; other codes in [100, 599] are written into the arena; any
// other value renders as "0".
func FormatStatus(status int, a *valuetree.Arena) string {
	switch status {
	case 200:
		return "200"
	case 404:
		return "404"
	case 301:
		return "301"
	case 302:
		return "302"
	case 303:
		return "303"
	case 201:
		return "201"
	}
	if status < 100 || status > 599 {
		return "0"
	}
	buf := a.AllocString(3)
	buf[2] = byte('0' + status%10)
	status /= 10
	buf[1] = byte('0' + status%10)
	buf[0] = byte('0' + status/10)
	return valuetree.BytesToString(buf)
}
