package tui

// supported lists the commands that accept --tui.
var supported = map[string]bool{
	"analyze": true,
	"resume":  true,
	"replay":  true,
}

// IsTUISupported reports whether command accepts --tui.
func IsTUISupported(command string) bool {
	return supported[command]
}
