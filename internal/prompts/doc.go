// Package prompts holds the prompt templates used by the agent and its
// tools.
//
// Every prompt has a built-in default. A deployment can replace any of
// them by dropping a file named <name>.tmpl into the configured prompts
// directory; files are parsed with text/template.
package prompts
