package chat

import "regexp"

// Patterns for the rule-based intent fallback. Only directory browsing is
// covered: it is the request users type most when poking at a fresh
// workspace, and it needs no model to answer.
var (
	lsWord     = regexp.MustCompile(`(?i)\bls\b`)
	lsPhrase   = regexp.MustCompile(`(?i)\b(list|show|browse)\b.*\b(files?|folders?|director(?:y|ies))\b`)
	lsPhraseZH = regexp.MustCompile(`(看一下|看看|查看|列出).*(文件|目录|文件夹|清单|列表)`)

	pathAfterPrep   = regexp.MustCompile(`(?i)\b(?:in|at|under|inside)\s+(?:the\s+|this\s+|my\s+|a\s+)?([\w./-]+)`)
	pathAfterPrepZH = regexp.MustCompile(`(?:在|于|到|进入|切换到|打开)\s*([\w./-]+)`)
	pathAfterLs     = regexp.MustCompile(`(?i)\bls\b\s+([\w./-]+)`)
	pathWithSlash   = regexp.MustCompile(`([\w.-]+/[\w./-]+)`)
)

// pathStopwords are captures that describe the workspace rather than name
// a directory in it.
var pathStopwords = map[string]bool{
	"current":   true,
	"directory": true,
	"folder":    true,
	"file":      true,
	"files":     true,
	"root":      true,
	"workspace": true,
}

// DetectIntent maps an obvious file-browsing request to a directory
// listing action, so "ls reports", "show me the files in examples" or
// "看一下有哪些文件" still gets a useful answer when the model cannot
// produce one. Returns nil for everything else.
func DetectIntent(text string) *Action {
	if !lsWord.MatchString(text) && !lsPhrase.MatchString(text) && !lsPhraseZH.MatchString(text) {
		return nil
	}

	path := "."
	for _, re := range []*regexp.Regexp{pathAfterPrep, pathAfterPrepZH, pathAfterLs, pathWithSlash} {
		m := re.FindStringSubmatch(text)
		if m == nil || pathStopwords[m[1]] {
			continue
		}
		path = m[1]
		break
	}

	return &Action{
		Type: ActionMCPCall,
		Tool: "fs.list_dir",
		Args: map[string]any{"path": path},
	}
}
