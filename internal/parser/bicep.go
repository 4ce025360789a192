package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var bicepDeclaration = regexp.MustCompile(`(?m)^\s*(targetScope|param|var|resource|module|output|type|func|import|metadata)\b`)

// frame markers on the scanner stack besides the opening brackets
const (
	inString        = 'S'
	inInterpolation = 'I'
)

// CheckBicep performs the structural sanity check on a Bicep template: it must be
// non-empty, have balanced brackets outside strings and comments, and contain at least
// one top-level declaration.
func CheckBicep(src string) error {
	if strings.TrimSpace(src) == "" {
		return errors.New("bicep code is empty")
	}
	if err := checkBalanced(src); err != nil {
		return err
	}
	if !bicepDeclaration.MatchString(src) {
		return errors.New("bicep code has no declarations")
	}
	return nil
}

func checkBalanced(src string) error {
	var stack []byte
	top := func() byte {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}
	pop := func() { stack = stack[:len(stack)-1] }

	line := 1
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}

		if top() == inString {
			switch {
			case c == '\\':
				i++
			case c == '\'':
				pop()
			case c == '$' && i+1 < len(src) && src[i+1] == '{':
				stack = append(stack, inInterpolation)
				i++
			case c == '\n':
				return fmt.Errorf("line %d: unterminated string", line-1)
			}
			continue
		}

		switch {
		case strings.HasPrefix(src[i:], "//"):
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				i = len(src)
				continue
			}
			i += nl - 1
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return fmt.Errorf("line %d: unterminated comment", line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 3
		case strings.HasPrefix(src[i:], "'''"):
			end := strings.Index(src[i+3:], "'''")
			if end < 0 {
				return fmt.Errorf("line %d: unterminated multi-line string", line)
			}
			line += strings.Count(src[i:i+3+end], "\n")
			i += end + 5
		case c == '\'':
			stack = append(stack, inString)
		case c == '{' || c == '[' || c == '(':
			stack = append(stack, c)
		case c == '}':
			if t := top(); t != '{' && t != inInterpolation {
				return fmt.Errorf("line %d: unexpected '}'", line)
			}
			pop()
		case c == ']':
			if top() != '[' {
				return fmt.Errorf("line %d: unexpected ']'", line)
			}
			pop()
		case c == ')':
			if top() != '(' {
				return fmt.Errorf("line %d: unexpected ')'", line)
			}
			pop()
		}
	}

	if len(stack) > 0 {
		if top() == inString {
			return errors.New("unterminated string")
		}
		return fmt.Errorf("%d unclosed bracket(s)", len(stack))
	}
	return nil
}
