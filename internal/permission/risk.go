package permission

import (
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// riskOf computes the nominal risk of a request before the path-boundary
// rule is applied.
func riskOf(req Request) Risk {
	switch req.Kind {
	case OpReadFile:
		return RiskLow
	case OpWriteFile, OpEditFile:
		if isSensitivePath(req.TargetPath) {
			return RiskHigh
		}
		return RiskMedium
	case OpGitCommit:
		return RiskMedium
	case OpGitRevert:
		return RiskHigh
	case OpBash:
		return commandRisk(req.Command)
	default:
		// Unknown operations never get a free pass.
		return RiskHigh
	}
}

// isSensitivePath flags writes to files that can change what gets
// executed outside the sandboxed flow.
func isSensitivePath(path string) bool {
	base := filepath.Base(path)
	switch base {
	case ".bashrc", ".zshrc", ".profile", ".gitconfig", "authorized_keys", "id_rsa", "id_ed25519":
		return true
	}
	return strings.Contains(path, "/.ssh/") || strings.Contains(path, "/.aws/")
}

// commandRisk parses the shell command and classifies the highest-risk
// call it contains. A command that cannot be parsed is treated as
// high risk rather than being waved through.
func commandRisk(command string) Risk {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return RiskHigh
	}

	risk := RiskLow
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		r := callRisk(literalWords(call))
		if r > risk {
			risk = r
		}
		return true
	})

	if pipesIntoShell(file) && risk < RiskCritical {
		risk = RiskCritical
	}
	return risk
}

// literalWords flattens a call's arguments to literal strings; words
// with expansions come back empty so they never match an allow pattern.
func literalWords(call *syntax.CallExpr) []string {
	words := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		var sb strings.Builder
		for _, part := range arg.Parts {
			lit, ok := part.(*syntax.Lit)
			if !ok {
				sb.Reset()
				break
			}
			sb.WriteString(lit.Value)
		}
		words = append(words, sb.String())
	}
	return words
}

func callRisk(words []string) Risk {
	if len(words) == 0 || words[0] == "" {
		// Expansion in command position: cannot know what runs.
		return RiskHigh
	}
	name := filepath.Base(words[0])

	switch name {
	case "sudo", "su", "doas", "mkfs", "fdisk", "shutdown", "reboot", "halt", "dd":
		return RiskCritical
	case "rm":
		return rmRisk(words[1:])
	case "chmod", "chown":
		if hasFlag(words[1:], "-R") || hasFlag(words[1:], "--recursive") {
			return RiskHigh
		}
		return RiskMedium
	case "git":
		return gitRisk(words[1:])
	case "curl", "wget":
		return RiskMedium
	case "kill", "pkill", "killall":
		return RiskHigh
	case "mv", "cp", "mkdir", "touch", "ln", "sed", "tee", "patch":
		return RiskMedium
	case "ls", "cat", "head", "tail", "grep", "rg", "find", "wc", "diff",
		"pwd", "echo", "which", "env", "go", "npm", "cargo", "make",
		"pytest", "node", "python", "python3":
		return RiskLow
	default:
		return RiskMedium
	}
}

func rmRisk(args []string) Risk {
	recursive := false
	force := false
	var targets []string
	for _, a := range args {
		switch {
		case a == "-r" || a == "-R" || a == "--recursive":
			recursive = true
		case a == "-f" || a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && len(a) > 1 && !strings.HasPrefix(a, "--"):
			if strings.ContainsAny(a, "rR") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
		default:
			targets = append(targets, a)
		}
	}
	for _, t := range targets {
		if t == "/" || t == "/*" || t == "~" || t == "~/" || t == "$HOME" {
			return RiskCritical
		}
	}
	if recursive && force {
		return RiskHigh
	}
	if recursive || force {
		return RiskMedium
	}
	return RiskMedium
}

func gitRisk(args []string) Risk {
	if len(args) == 0 {
		return RiskLow
	}
	switch args[0] {
	case "push":
		if hasFlag(args, "--force") || hasFlag(args, "-f") || hasFlag(args, "--force-with-lease") {
			return RiskHigh
		}
		return RiskMedium
	case "reset":
		if hasFlag(args, "--hard") {
			return RiskHigh
		}
		return RiskMedium
	case "clean":
		return RiskHigh
	case "checkout", "restore", "revert", "commit", "add", "stash", "merge", "rebase":
		return RiskMedium
	default:
		return RiskLow
	}
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// pipesIntoShell detects the curl-pipe-to-shell pattern: any pipeline
// whose downstream command is an interpreter.
func pipesIntoShell(file *syntax.File) bool {
	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		binary, ok := node.(*syntax.BinaryCmd)
		if !ok || binary.Op != syntax.Pipe {
			return true
		}
		call := callOf(binary.Y)
		if call == nil {
			return true
		}
		words := literalWords(call)
		if len(words) == 0 {
			return true
		}
		switch filepath.Base(words[0]) {
		case "sh", "bash", "zsh", "fish", "dash":
			found = true
			return false
		}
		return true
	})
	return found
}

func callOf(stmt *syntax.Stmt) *syntax.CallExpr {
	if stmt == nil {
		return nil
	}
	call, _ := stmt.Cmd.(*syntax.CallExpr)
	return call
}
