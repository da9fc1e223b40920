package proto

import (
	"strconv"
	"strings"
	"unicode"
)

// parameterShape determines how the text trailing a verb is decoded.
type parameterShape int

const (
	shapeOptionalText parameterShape = iota // free text tail, e.g. HELO, VRFY, HELP
	shapeMailAddress                        // "FROM:<addr> [PARAM=VALUE ...]"
	shapeRcptAddress                        // "TO:<addr> [PARAM=VALUE ...]"
	shapeBdat                               // "<size> [LAST]"
	shapeAuth                               // "<mechanism> [initial-response]"
	shapeNone                               // no parameter accepted at all
)

// verbTable is the comprehensive list of recognized verbs, generalizing the
// teacher's protocolCommands table from five entries to the full verb set.
var verbTable = []struct {
	verb  Verb
	text  string
	shape parameterShape
}{
	{VerbHelo, "HELO", shapeOptionalText},
	{VerbEhlo, "EHLO", shapeOptionalText},
	{VerbLhlo, "LHLO", shapeOptionalText},
	{VerbMail, "MAIL", shapeMailAddress},
	{VerbRcpt, "RCPT", shapeRcptAddress},
	{VerbData, "DATA", shapeNone},
	{VerbBdat, "BDAT", shapeBdat},
	{VerbAuth, "AUTH", shapeAuth},
	{VerbNoop, "NOOP", shapeOptionalText},
	{VerbRset, "RSET", shapeNone},
	{VerbVrfy, "VRFY", shapeOptionalText},
	{VerbExpn, "EXPN", shapeOptionalText},
	{VerbStartTLS, "STARTTLS", shapeNone},
	{VerbQuit, "QUIT", shapeNone},
	{VerbHelp, "HELP", shapeOptionalText},
	{VerbEtrn, "ETRN", shapeOptionalText},
	{VerbAtrn, "ATRN", shapeOptionalText},
	{VerbBurl, "BURL", shapeOptionalText},
}

func contains7BitASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// Parse interprets one decoded SMTP/LMTP request line (without its trailing
// CRLF, as produced by receiver.Line) and breaks it down into a typed
// Command, or a categorized ParseError.
func Parse(line string) (Command, *ParseError) {
	if !contains7BitASCII(line) {
		return Command{}, &ParseError{Kind: ErrSyntax, Grammar: "7-bit ASCII command line"}
	}
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" {
		return Command{}, &ParseError{Kind: ErrUnknownCommand}
	}

	upper := strings.ToUpper(line)
	idx := -1
	for i := range verbTable {
		if strings.HasPrefix(upper, verbTable[i].text) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Command{}, &ParseError{Kind: ErrUnknownCommand}
	}
	entry := verbTable[idx]
	verbLen := len(entry.text)
	if !(len(line) == verbLen || line[verbLen] == ' ' || line[verbLen] == ':') {
		return Command{}, &ParseError{Kind: ErrUnknownCommand}
	}

	cmd := Command{Verb: entry.verb}
	switch entry.shape {
	case shapeNone:
		// no parameter accepted; ignore any trailing text silently, as the
		// teacher's parser does for bare verbs like DATA/QUIT/RSET.
	case shapeOptionalText:
		if len(line) > verbLen+1 {
			cmd.Parameter = strings.TrimSpace(line[verbLen+1:])
		}
		if entry.verb == VerbHelo || entry.verb == VerbEhlo || entry.verb == VerbLhlo {
			cmd.Domain = cmd.Parameter
		}
	case shapeMailAddress:
		addr, params, perr := parseAddressCommand(line, verbLen, "FROM")
		if perr != nil {
			perr.Kind = ErrInvalidSender
			return Command{}, perr
		}
		cmd.From = addr
		cmd.MailParams = params
	case shapeRcptAddress:
		addr, params, perr := parseAddressCommand(line, verbLen, "TO")
		if perr != nil {
			perr.Kind = ErrInvalidRecipient
			return Command{}, perr
		}
		cmd.To = addr
		if notify, ok := params["NOTIFY"]; ok {
			cmd.Notify = strings.Split(notify, ",")
		}
		if orcpt, ok := params["ORCPT"]; ok {
			cmd.Orcpt = orcpt
		}
	case shapeBdat:
		size, isLast, perr := parseBdatParameter(line, verbLen)
		if perr != nil {
			return Command{}, perr
		}
		cmd.ChunkSize = size
		cmd.IsLast = isLast
	case shapeAuth:
		mechanism, initial, perr := parseAuthParameter(line, verbLen)
		if perr != nil {
			return Command{}, perr
		}
		cmd.Mechanism = mechanism
		cmd.InitialResponse = initial
	}
	return cmd, nil
}

// parseAddressCommand decodes "<keyword>:<addr> [PARAM=VALUE ...]" as used by
// MAIL FROM and RCPT TO, generalizing the teacher's bracket-scanning idiom in
// parseConversationCommand to also return the ESMTP parameter list.
func parseAddressCommand(line string, verbLen int, keyword string) (string, map[string]string, *ParseError) {
	rest := line[verbLen:]
	rest = strings.TrimLeft(rest, " ")
	upperRest := strings.ToUpper(rest)
	if !strings.HasPrefix(upperRest, keyword+":") {
		return "", nil, &ParseError{Kind: ErrSyntax, Grammar: keyword + ":<address> [PARAM=VALUE ...]"}
	}
	rest = rest[len(keyword)+1:]
	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return "", nil, &ParseError{Kind: ErrSyntax, Grammar: "<address>"}
	}
	var addr, tail string
	if rest[0] == '<' {
		end := strings.IndexByte(rest, '>')
		if end == -1 {
			return "", nil, &ParseError{Kind: ErrSyntax, Grammar: "<address>"}
		}
		addr = rest[1:end]
		tail = strings.TrimSpace(rest[end+1:])
	} else {
		// Some clients omit angle brackets; take the address as the first
		// whitespace-delimited token.
		fields := strings.SplitN(rest, " ", 2)
		addr = fields[0]
		if len(fields) == 2 {
			tail = strings.TrimSpace(fields[1])
		}
	}
	params := map[string]string{}
	if tail != "" {
		for _, tok := range strings.Fields(tail) {
			kv := strings.SplitN(tok, "=", 2)
			key := strings.ToUpper(kv[0])
			val := ""
			if len(kv) == 2 {
				val = kv[1]
			}
			params[key] = val
		}
	}
	return addr, params, nil
}

// parseBdatParameter decodes "<octet-count> [LAST]".
func parseBdatParameter(line string, verbLen int) (int, bool, *ParseError) {
	rest := strings.TrimSpace(line[verbLen:])
	if rest == "" {
		return 0, false, &ParseError{Kind: ErrSyntax, Grammar: "BDAT <chunk-size> [LAST]"}
	}
	fields := strings.Fields(rest)
	size, err := strconv.Atoi(fields[0])
	if err != nil || size < 0 {
		return 0, false, &ParseError{Kind: ErrInvalidParameter, Parameter: "chunk-size"}
	}
	isLast := false
	if len(fields) > 1 {
		if strings.EqualFold(fields[1], "LAST") {
			isLast = true
		} else {
			return 0, false, &ParseError{Kind: ErrUnsupportedParameter, Parameter: fields[1]}
		}
	}
	return size, isLast, nil
}

// parseAuthParameter decodes "<mechanism> [initial-response]".
func parseAuthParameter(line string, verbLen int) (string, string, *ParseError) {
	rest := strings.TrimSpace(line[verbLen:])
	if rest == "" {
		return "", "", &ParseError{Kind: ErrSyntax, Grammar: "AUTH <mechanism> [initial-response]"}
	}
	fields := strings.SplitN(rest, " ", 2)
	mechanism := strings.ToUpper(fields[0])
	initial := ""
	if len(fields) == 2 {
		initial = strings.TrimSpace(fields[1])
	}
	return mechanism, initial, nil
}
