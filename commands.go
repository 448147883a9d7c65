package dicekv

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Built-in command names.
const (
	CmdPing       = "PING"
	CmdEcho       = "ECHO"
	CmdHandshake  = "HANDSHAKE"
	CmdGet        = "GET"
	CmdSet        = "SET"
	CmdGetDel     = "GETDEL"
	CmdGetEx      = "GETEX"
	CmdDel        = "DEL"
	CmdExists     = "EXISTS"
	CmdExpire     = "EXPIRE"
	CmdExpireTime = "EXPIRETIME"
	CmdTTL        = "TTL"
	CmdType       = "TYPE"
	CmdIncr       = "INCR"
	CmdIncrBy     = "INCRBY"
	CmdDecr       = "DECR"
	CmdDecrBy     = "DECRBY"
	CmdFlushDB    = "FLUSHDB"
	CmdHSet       = "HSET"
	CmdHGet       = "HGET"
	CmdHGetAll    = "HGETALL"
	CmdZAdd       = "ZADD"
	CmdZRange     = "ZRANGE"
	CmdZCard      = "ZCARD"
	CmdZCount     = "ZCOUNT"
	CmdZRem       = "ZREM"
	CmdZRank      = "ZRANK"
	CmdUnwatch    = "UNWATCH"

	CmdGetWatch     = "GET.WATCH"
	CmdHGetWatch    = "HGET.WATCH"
	CmdHGetAllWatch = "HGETALL.WATCH"
	CmdZRangeWatch  = "ZRANGE.WATCH"
	CmdZCardWatch   = "ZCARD.WATCH"
	CmdZCountWatch  = "ZCOUNT.WATCH"
	CmdZRankWatch   = "ZRANK.WATCH"
)

// WatchSuffix turns a read command into its watch variant.
const WatchSuffix = ".WATCH"

var builtinCommands = []commandSpec{
	{name: CmdPing, validate: rangeArgs(0, 1)},
	{name: CmdEcho, validate: exactArgs(1)},
	{name: CmdHandshake, validate: validateHandshake},
	{name: CmdGet, validate: exactArgs(1)},
	{name: CmdSet, validate: validateSet},
	{name: CmdGetDel, validate: exactArgs(1)},
	{name: CmdGetEx, validate: validateGetEx},
	{name: CmdDel, validate: minArgs(1)},
	{name: CmdExists, validate: minArgs(1)},
	{name: CmdExpire, validate: validateExpire},
	{name: CmdExpireTime, validate: exactArgs(1)},
	{name: CmdTTL, validate: exactArgs(1)},
	{name: CmdType, validate: exactArgs(1)},
	{name: CmdIncr, validate: exactArgs(1)},
	{name: CmdIncrBy, validate: all(exactArgs(2), intArg(1))},
	{name: CmdDecr, validate: exactArgs(1)},
	{name: CmdDecrBy, validate: all(exactArgs(2), intArg(1))},
	{name: CmdFlushDB, validate: exactArgs(0)},
	{name: CmdHSet, validate: validateHSet},
	{name: CmdHGet, validate: exactArgs(2)},
	{name: CmdHGetAll, validate: exactArgs(1)},
	{name: CmdZAdd, validate: validateZAdd},
	{name: CmdZRange, validate: validateZRange},
	{name: CmdZCard, validate: exactArgs(1)},
	{name: CmdZCount, validate: all(exactArgs(3), floatArg(1), floatArg(2))},
	{name: CmdZRem, validate: minArgs(2)},
	{name: CmdZRank, validate: validateZRank},
	{name: CmdUnwatch, validate: all(exactArgs(1), uintArg(0))},

	{name: CmdGetWatch, watch: true, validate: exactArgs(1)},
	{name: CmdHGetWatch, watch: true, validate: exactArgs(2)},
	{name: CmdHGetAllWatch, watch: true, validate: exactArgs(1)},
	{name: CmdZRangeWatch, watch: true, validate: validateZRange},
	{name: CmdZCardWatch, watch: true, validate: exactArgs(1)},
	{name: CmdZCountWatch, watch: true, validate: all(exactArgs(3), floatArg(1), floatArg(2))},
	{name: CmdZRankWatch, watch: true, validate: validateZRank},
}

func invalidArgs(format string, a ...any) error {
	return &CommandError{Message: fmt.Sprintf(format, a...)}
}

func all(fns ...ValidateFunc) ValidateFunc {
	return func(args []string) error {
		for _, fn := range fns {
			if err := fn(args); err != nil {
				return err
			}
		}
		return nil
	}
}

func exactArgs(n int) ValidateFunc {
	return func(args []string) error {
		if len(args) != n {
			return invalidArgs("expected %d arguments, got %d", n, len(args))
		}
		return nil
	}
}

func minArgs(n int) ValidateFunc {
	return func(args []string) error {
		if len(args) < n {
			return invalidArgs("expected at least %d arguments, got %d", n, len(args))
		}
		return nil
	}
}

func rangeArgs(lo, hi int) ValidateFunc {
	return func(args []string) error {
		if len(args) < lo || len(args) > hi {
			return invalidArgs("expected %d to %d arguments, got %d", lo, hi, len(args))
		}
		return nil
	}
}

func intArg(i int) ValidateFunc {
	return func(args []string) error {
		if _, err := strconv.ParseInt(args[i], 10, 64); err != nil {
			return invalidArgs("argument %d: %q is not an integer", i, args[i])
		}
		return nil
	}
}

func uintArg(i int) ValidateFunc {
	return func(args []string) error {
		if _, err := strconv.ParseUint(args[i], 10, 64); err != nil {
			return invalidArgs("argument %d: %q is not an unsigned integer", i, args[i])
		}
		return nil
	}
}

func floatArg(i int) ValidateFunc {
	return func(args []string) error {
		if _, err := strconv.ParseFloat(args[i], 64); err != nil {
			return invalidArgs("argument %d: %q is not a number", i, args[i])
		}
		return nil
	}
}

func validateHandshake(args []string) error {
	if err := exactArgs(2)(args); err != nil {
		return err
	}
	if args[0] == "" {
		return invalidArgs("client id is required")
	}
	switch strings.ToLower(args[1]) {
	case "command", ModeWatch:
		return nil
	default:
		return invalidArgs("unknown execution mode %q", args[1])
	}
}

// expiryOption parses the value of an EX, PX, EXAT or PXAT option.
func expiryOption(args []string, i int) error {
	if i+1 >= len(args) {
		return invalidArgs("%s requires a value", strings.ToUpper(args[i]))
	}
	n, err := strconv.ParseInt(args[i+1], 10, 64)
	if err != nil || n <= 0 {
		return invalidArgs("%s: invalid expire value %q", strings.ToUpper(args[i]), args[i+1])
	}
	return nil
}

// validateSet checks SET key value [NX|XX] [EX s|PX ms|EXAT ts|PXAT ts|KEEPTTL] [GET].
func validateSet(args []string) error {
	if len(args) < 2 {
		return invalidArgs("expected at least 2 arguments, got %d", len(args))
	}

	var nx, xx bool
	expiries := 0
	for i := 2; i < len(args); i++ {
		switch opt := strings.ToUpper(args[i]); opt {
		case "EX", "PX", "EXAT", "PXAT":
			if err := expiryOption(args, i); err != nil {
				return err
			}
			expiries++
			i++
		case "KEEPTTL":
			expiries++
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GET":
		default:
			return invalidArgs("unknown option %q", args[i])
		}
	}

	if nx && xx {
		return invalidArgs("NX and XX are mutually exclusive")
	}
	if expiries > 1 {
		return invalidArgs("only one of EX, PX, EXAT, PXAT or KEEPTTL is allowed")
	}
	return nil
}

// validateGetEx checks GETEX key [EX s|PX ms|EXAT ts|PXAT ts|PERSIST].
func validateGetEx(args []string) error {
	if len(args) < 1 {
		return invalidArgs("expected at least 1 argument, got 0")
	}

	options := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX", "PX", "EXAT", "PXAT":
			if err := expiryOption(args, i); err != nil {
				return err
			}
			i++
		case "PERSIST":
		default:
			return invalidArgs("unknown option %q", args[i])
		}
		options++
	}

	if options > 1 {
		return invalidArgs("only one of EX, PX, EXAT, PXAT or PERSIST is allowed")
	}
	return nil
}

// validateExpire checks EXPIRE key seconds [NX|XX|GT|LT].
func validateExpire(args []string) error {
	if err := all(rangeArgs(2, 3), intArg(1))(args); err != nil {
		return err
	}
	if len(args) == 3 {
		switch strings.ToUpper(args[2]) {
		case "NX", "XX", "GT", "LT":
		default:
			return invalidArgs("unknown option %q", args[2])
		}
	}
	return nil
}

func validateHSet(args []string) error {
	if len(args) < 3 || (len(args)-1)%2 != 0 {
		return invalidArgs("expected a key followed by field value pairs")
	}
	return nil
}

// validateZAdd checks ZADD key [NX|XX] [GT|LT] [CH] [INCR] score member [score member ...].
func validateZAdd(args []string) error {
	if len(args) < 3 {
		return invalidArgs("expected at least 3 arguments, got %d", len(args))
	}

	i := 1
	var nx, xx, gt, lt, incr bool
flags:
	for ; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GT":
			gt = true
		case "LT":
			lt = true
		case "CH":
		case "INCR":
			incr = true
		default:
			break flags
		}
	}

	pairs := args[i:]
	switch {
	case nx && xx:
		return invalidArgs("NX and XX are mutually exclusive")
	case gt && lt, nx && (gt || lt):
		return invalidArgs("GT, LT and NX are mutually exclusive")
	case len(pairs) == 0 || len(pairs)%2 != 0:
		return invalidArgs("expected score member pairs")
	case incr && len(pairs) != 2:
		return invalidArgs("INCR accepts a single score member pair")
	}

	for j := 0; j < len(pairs); j += 2 {
		if f, err := strconv.ParseFloat(pairs[j], 64); err != nil || math.IsNaN(f) {
			return invalidArgs("score %q is not a number", pairs[j])
		}
	}
	return nil
}

// validateZRange checks ZRANGE key start stop [WITHSCORES].
func validateZRange(args []string) error {
	if err := all(rangeArgs(3, 4), intArg(1), intArg(2))(args); err != nil {
		return err
	}
	if len(args) == 4 && !strings.EqualFold(args[3], "WITHSCORES") {
		return invalidArgs("unknown option %q", args[3])
	}
	return nil
}

// validateZRank checks ZRANK key member [WITHSCORE].
func validateZRank(args []string) error {
	if err := rangeArgs(2, 3)(args); err != nil {
		return err
	}
	if len(args) == 3 && !strings.EqualFold(args[2], "WITHSCORE") {
		return invalidArgs("unknown option %q", args[2])
	}
	return nil
}
