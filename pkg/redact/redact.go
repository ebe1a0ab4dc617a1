package redact

// Addr masks a recipient address for log output, keeping only a trailing
// fragment. Empty and very short values are fully masked.
func Addr(addr string) string {
	if addr == "" {
		return "[empty]"
	}
	if len(addr) < 4 {
		return "***"
	}
	return "***" + addr[len(addr)-4:]
}
