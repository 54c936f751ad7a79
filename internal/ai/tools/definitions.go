package tools

// builtinSensitive lists the built-in tools gated behind user approval.
var builtinSensitive = []string{
	"send_email",
	"create_calendar_event",
	"delete_calendar_event",
	"create_note",
	"append_note",
}

// SensitiveNames lists the built-in tools that require confirmation.
func SensitiveNames() []string {
	return append([]string(nil), builtinSensitive...)
}
