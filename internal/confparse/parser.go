package confparse

import (
	"fmt"
	"strconv"
)

// DefaultBaud is used when a CONSOLE directive omits BPS.
const DefaultBaud = 9600

// ConsoleDef is one parsed CONSOLE directive.
type ConsoleDef struct {
	Name string
	Dev  string
	Log  string
	Rst  string
	Bps  int
}

// Config is the parsed server configuration. Port is zero when the file
// did not set it; the caller applies the command-line override and the
// built-in default, in that order of precedence.
type Config struct {
	Port      int
	KeepAlive bool
	LoopBack  bool
	PidFile   string
	Consoles  []ConsoleDef
}

// ParseError is a per-directive failure. Its message carries the fatal
// prefix the daemon prints on the error channel.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ERROR: %s:%d: %s.", e.File, e.Line, e.Reason)
}

// Parse reads a configuration buffer. Directive errors do not abort
// parsing: each is recorded and the parser resynchronizes at the next
// end-of-line. The returned Config reflects every directive that parsed
// cleanly; a CONSOLE directive with an error is dropped whole, while a
// SERVER directive keeps the settings it parsed before its first error.
func Parse(filename string, src []byte) (*Config, []*ParseError) {
	p := &parser{
		lex:  NewLexer(src),
		file: filename,
		conf: &Config{KeepAlive: true},
	}
	p.run()
	return p.conf, p.errs
}

type parser struct {
	lex  *Lexer
	file string
	conf *Config
	errs []*ParseError

	// last is the most recently consumed token; resync starts from it so
	// an error that already swallowed the EOL never eats the next line.
	last Token
}

func (p *parser) next() Token {
	p.last = p.lex.Next()
	return p.last
}

func (p *parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, &ParseError{
		File:   p.file,
		Line:   p.lex.Line(),
		Reason: fmt.Sprintf(format, args...),
	})
}

// resync consumes tokens through the next end-of-line so a malformed
// directive cannot poison the one after it.
func (p *parser) resync() {
	for p.last.Kind != TokEOL && p.last.Kind != TokEOF {
		p.next()
	}
}

func (p *parser) run() {
	for {
		tok := p.next()
		switch {
		case tok.Kind == TokEOF:
			return
		case tok.Kind == TokEOL:
			continue
		case tok.Kind == TokErr:
			p.errorf("unmatched quote")
			p.resync()
		case tok.Kind == TokKeyword && tok.Keyword == KwConsole:
			p.consoleDirective()
		case tok.Kind == TokKeyword && tok.Keyword == KwServer:
			p.serverDirective()
		default:
			p.errorf("unrecognized token '%s'", tok.Text)
			p.resync()
		}
	}
}

// keywordValue consumes "= <value>" after a directive keyword and returns
// the value token. A failure returns a non-empty reason.
func (p *parser) keywordValue(kw Keyword) (Token, string) {
	if tok := p.next(); tok.Kind != TokEquals {
		return tok, fmt.Sprintf("expected '=' after %s keyword", kw)
	}
	val := p.next()
	if val.Kind == TokErr {
		return val, "unmatched quote"
	}
	return val, ""
}

func (p *parser) stringValue(kw Keyword) (string, string) {
	val, r := p.keywordValue(kw)
	if r != "" {
		return "", r
	}
	if val.Kind != TokStr && val.Kind != TokInt {
		return "", fmt.Sprintf("expected STRING for %s value", kw)
	}
	return val.Text, ""
}

func (p *parser) intValue(kw Keyword) (int, string) {
	val, r := p.keywordValue(kw)
	if r != "" {
		return 0, r
	}
	n, err := strconv.Atoi(val.Text)
	if val.Kind != TokInt || err != nil {
		return 0, fmt.Sprintf("expected INTEGER for %s value", kw)
	}
	if n <= 0 {
		return 0, fmt.Sprintf("invalid %s value %d", kw, n)
	}
	return n, ""
}

func (p *parser) onOffValue(kw Keyword) (bool, string) {
	val, r := p.keywordValue(kw)
	if r != "" {
		return false, r
	}
	switch {
	case val.Kind == TokKeyword && val.Keyword == KwOn:
		return true, ""
	case val.Kind == TokKeyword && val.Keyword == KwOff:
		return false, ""
	}
	return false, fmt.Sprintf("expected ON or OFF for %s value", kw)
}

// CONSOLE NAME="<str>" DEV="<str>" [LOG=<str>] [RST=<str>] [BPS=<int>]
func (p *parser) consoleDirective() {
	def := ConsoleDef{Bps: DefaultBaud}
	var reason string

	done := false
	for !done && reason == "" {
		tok := p.next()
		switch {
		case tok.Kind == TokEOL || tok.Kind == TokEOF:
			done = true
		case tok.Kind == TokErr:
			reason = "unmatched quote"
		case tok.Kind == TokKeyword:
			switch tok.Keyword {
			case KwName:
				def.Name, reason = p.stringValue(tok.Keyword)
			case KwDev:
				def.Dev, reason = p.stringValue(tok.Keyword)
			case KwLog:
				def.Log, reason = p.stringValue(tok.Keyword)
			case KwRst:
				def.Rst, reason = p.stringValue(tok.Keyword)
			case KwBPS:
				def.Bps, reason = p.intValue(tok.Keyword)
			default:
				reason = fmt.Sprintf("unrecognized token '%s'", tok.Text)
			}
		default:
			reason = fmt.Sprintf("unrecognized token '%s'", tok.Text)
		}
	}

	if reason == "" && (def.Name == "" || def.Dev == "") {
		reason = "incomplete CONSOLE directive"
	}
	if reason != "" {
		p.errorf("%s", reason)
		p.resync()
		return
	}
	p.conf.Consoles = append(p.conf.Consoles, def)
}

// SERVER PORT=<int> | KEEPALIVE={ON|OFF} | LOOPBACK={ON|OFF} |
// PIDFILE=<str> | LOGFILE=<str> | TIMESTAMP=<str>
func (p *parser) serverDirective() {
	var reason string

	done := false
	for !done && reason == "" {
		tok := p.next()
		switch {
		case tok.Kind == TokEOL || tok.Kind == TokEOF:
			done = true
		case tok.Kind == TokErr:
			reason = "unmatched quote"
		case tok.Kind == TokKeyword:
			switch tok.Keyword {
			case KwPort:
				var n int
				if n, reason = p.intValue(tok.Keyword); reason == "" {
					p.conf.Port = n
				}
			case KwKeepAlive:
				var on bool
				if on, reason = p.onOffValue(tok.Keyword); reason == "" {
					p.conf.KeepAlive = on
				}
			case KwLoopBack:
				var on bool
				if on, reason = p.onOffValue(tok.Keyword); reason == "" {
					p.conf.LoopBack = on
				}
			case KwPidFile:
				var s string
				if s, reason = p.stringValue(tok.Keyword); reason == "" {
					p.conf.PidFile = s
				}
			case KwLogFile, KwTimestamp:
				// Accepted by the grammar, not yet implemented.
				if _, reason = p.keywordValue(tok.Keyword); reason == "" {
					reason = fmt.Sprintf("%s keyword not yet implemented", tok.Keyword)
				}
			default:
				reason = fmt.Sprintf("unrecognized token '%s'", tok.Text)
			}
		default:
			reason = fmt.Sprintf("unrecognized token '%s'", tok.Text)
		}
	}

	if reason != "" {
		p.errorf("%s", reason)
		p.resync()
	}
}
