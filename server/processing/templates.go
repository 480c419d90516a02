package processing

// ScheduleTemplate is the name of the schedule-generation template.
const ScheduleTemplate = "schedule"

var builtinTemplates = map[string]string{
	ScheduleTemplate: `Build an optimized weekly schedule{{if .University}} for a student at {{.University}}{{end}}.

Commitments:
{{range .Events}}- {{.Title}}{{if .Type}} ({{.Type}}){{end}}{{if .Day}} on {{.Day}}{{end}}{{if .Start}} from {{.Start}}{{if .End}} to {{.End}}{{end}}{{end}}{{if .Location}} at {{.Location}}{{end}}
{{end}}{{if .Preferences}}
Preferences: {{.Preferences}}
{{end}}
Return one JSON object with exactly these top-level keys:
"optimizedSchedule": an array of events, each with "title", "type", "day", "startTime", "endTime", "location" and optional "notes";
"analysis": an object of summary figures such as "totalClassHours", "totalStudyHours" and "busiestDay";
"recommendations", "tips" and "warnings": arrays of short strings.
Keep every commitment listed above and add study blocks where they help.`,
}

var systemPrompts = map[string]string{
	ScheduleTemplate: "You are a scheduling assistant for university students. " +
		"Reply with a single valid JSON object and nothing else: no Markdown, no commentary.",
}
