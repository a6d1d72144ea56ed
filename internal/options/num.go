package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yiyiyouwo/ddpt/internal/pt"
)

// ParseNum parses a dd-style numeric argument: decimal or 0x hex, an
// optional unit suffix, and 'x' products (e.g. bs=512 count=2x1024).
// Lower-case suffixes are the binary units, upper-case the decimal
// ones, following the sg utilities.
func ParseNum(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric argument: %w", pt.ErrSyntax)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return parseOne(s)
	}
	product := int64(1)
	for _, part := range strings.Split(s, "x") {
		n, err := parseOne(part)
		if err != nil {
			return 0, err
		}
		product *= n
	}
	if product < 0 {
		return 0, fmt.Errorf("negative value %q: %w", s, pt.ErrSyntax)
	}
	return product, nil
}

func parseOne(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric component: %w", pt.ErrSyntax)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad hex number %q: %w", s, pt.ErrSyntax)
		}
		return n, nil
	}
	mult := int64(1)
	num := s
	if last := s[len(s)-1]; last < '0' || last > '9' {
		num = s[:len(s)-1]
		switch last {
		case 'c', 'C':
			mult = 1
		case 'w', 'W':
			mult = 2
		case 'b', 'B':
			mult = 512
		case 'k':
			mult = 1024
		case 'K':
			mult = 1000
		case 'm':
			mult = 1024 * 1024
		case 'M':
			mult = 1000 * 1000
		case 'g':
			mult = 1024 * 1024 * 1024
		case 'G':
			mult = 1000 * 1000 * 1000
		case 't':
			mult = 1024 * 1024 * 1024 * 1024
		case 'T':
			mult = 1000 * 1000 * 1000 * 1000
		default:
			return 0, fmt.Errorf("bad numeric suffix in %q: %w", s, pt.ErrSyntax)
		}
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, pt.ErrSyntax)
	}
	return n * mult, nil
}

// ParseInt is ParseNum bounded to int.
func ParseInt(s string) (int, error) {
	n, err := ParseNum(s)
	if err != nil {
		return 0, err
	}
	if n > int64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("value %q too large: %w", s, pt.ErrSyntax)
	}
	return int(n), nil
}
