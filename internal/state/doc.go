// Package state provides file-backed stores for runs, steps, cursors,
// contacts, goals, templates, and browser sessions.
//
// Layout under the data directory:
//
//	runs/runs.json            run index
//	runs/<runID>/steps.jsonl  append-only step ledger per run
//	cursors.json              sync cursors keyed by account:data-type
//	contacts.json             contact records
//	goals/goals.json          goal index
//	goals/<goalID>.jsonl      append-only progress series per goal
//	templates.json            workflow templates
//	browser/<platform>.enc    encrypted browser sessions
//
// All JSON index writes go through a temp-file + rename so a crash never
// leaves a truncated file behind.
package state
