package kache

import (
	"strconv"
	"strings"
)

// Dispatch executes one already-parsed request (§4.8's command table) against
// ks and returns the (status, payload) pair to encode as a response. nowUs
// is the reactor's current wall-clock reading in microseconds, threaded in
// rather than read here so command handlers stay deterministic and testable.
func Dispatch(ks *Keyspace, nowUs uint64, args [][]byte) (uint32, Value) {
	if len(args) == 0 {
		return StatusUnknownCmd, nilValue()
	}
	cmd := strings.ToUpper(string(args[0]))
	switch cmd {
	case "GET":
		return cmdGet(ks, args)
	case "SET":
		return cmdSet(ks, args)
	case "DEL":
		return cmdDel(ks, args)
	case "KEYS":
		return cmdKeys(ks, args)
	case "EXPIRE":
		return cmdExpire(ks, nowUs, args)
	case "PERSIST":
		return cmdPersist(ks, args)
	case "TTL":
		return cmdTTL(ks, nowUs, args)
	case "ZADD":
		return cmdZadd(ks, args)
	case "ZREM":
		return cmdZrem(ks, args)
	case "ZSCORE":
		return cmdZscore(ks, args)
	case "ZQUERY":
		return cmdZquery(ks, args)
	case "ZSIZE":
		return cmdZsize(ks, args)
	case "TYPE":
		return cmdType(ks, args)
	case "PING":
		return cmdPing(args)
	default:
		return StatusUnknownCmd, nilValue()
	}
}

func arityOK(args [][]byte, want int) bool { return len(args) == want }

func cmdGet(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	e := ks.Get(args[1])
	if e == nil {
		return StatusOK, nilValue()
	}
	if e.kind != entryBytes {
		return StatusErrBadType, nilValue()
	}
	return StatusOK, strValue(e.bytes)
}

func cmdSet(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 3) {
		return StatusErrBadArg, nilValue()
	}
	ks.SetBytes(args[1], args[2])
	return StatusOK, nilValue()
}

func cmdDel(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	if ks.Del(args[1]) {
		return StatusOK, intValue(1)
	}
	return StatusOK, intValue(0)
}

func cmdKeys(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 1) {
		return StatusErrBadArg, nilValue()
	}
	var out []Value
	ks.ForEachKey(func(key []byte) {
		out = append(out, strValue(append([]byte(nil), key...)))
	})
	return StatusOK, arrValue(out)
}

func cmdExpire(ks *Keyspace, nowUs uint64, args [][]byte) (uint32, Value) {
	if !arityOK(args, 3) {
		return StatusErrBadArg, nilValue()
	}
	ms, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return StatusErrBadArg, nilValue()
	}
	if ks.Expire(args[1], nowUs+uint64(ms)*1000) {
		return StatusOK, intValue(1)
	}
	return StatusOK, intValue(0)
}

func cmdPersist(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	if ks.Persist(args[1]) {
		return StatusOK, intValue(1)
	}
	return StatusOK, intValue(0)
}

// cmdTTL reports remaining TTL in milliseconds: -1 no TTL, -2 absent key,
// matching §4.8's TTL row exactly.
func cmdTTL(ks *Keyspace, nowUs uint64, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	remainingUs, hasTTL, ok := ks.TTL(args[1], nowUs)
	if !ok {
		return StatusOK, intValue(-2)
	}
	if !hasTTL {
		return StatusOK, intValue(-1)
	}
	return StatusOK, intValue(int64(remainingUs / 1000))
}

func cmdZadd(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 4) {
		return StatusErrBadArg, nilValue()
	}
	score, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return StatusErrBadArg, nilValue()
	}
	zs, err := ks.GetOrCreateZSet(args[1])
	if err != nil {
		return StatusErrBadType, nilValue()
	}
	if zs.Zadd(args[3], score) {
		return StatusOK, intValue(1)
	}
	return StatusOK, intValue(0)
}

func withExistingZSet(ks *Keyspace, key []byte) (*ZSet, bool, bool) {
	e := ks.Get(key)
	if e == nil {
		return nil, false, true
	}
	if e.kind != entryZSet {
		return nil, false, false
	}
	return e.zset, true, true
}

func cmdZrem(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 3) {
		return StatusErrBadArg, nilValue()
	}
	zs, present, ok := withExistingZSet(ks, args[1])
	if !ok {
		return StatusErrBadType, nilValue()
	}
	if !present {
		return StatusOK, intValue(0)
	}
	if zs.Zrem(args[2]) {
		return StatusOK, intValue(1)
	}
	return StatusOK, intValue(0)
}

func cmdZscore(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 3) {
		return StatusErrBadArg, nilValue()
	}
	zs, present, ok := withExistingZSet(ks, args[1])
	if !ok {
		return StatusErrBadType, nilValue()
	}
	if !present {
		return StatusOK, nilValue()
	}
	score, found := zs.Zscore(args[2])
	if !found {
		return StatusOK, nilValue()
	}
	return StatusOK, dblValue(score)
}

// cmdZquery implements §4.8's ZQUERY row: z score name offset limit. Reply is
// an ARR of alternating STR name, DBL score.
func cmdZquery(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 6) {
		return StatusErrBadArg, nilValue()
	}
	minScore, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return StatusErrBadArg, nilValue()
	}
	offset, err := strconv.Atoi(string(args[4]))
	if err != nil {
		return StatusErrBadArg, nilValue()
	}
	limit, err := strconv.Atoi(string(args[5]))
	if err != nil {
		return StatusErrBadArg, nilValue()
	}

	zs, present, ok := withExistingZSet(ks, args[1])
	if !ok {
		return StatusErrBadType, nilValue()
	}
	if !present {
		return StatusOK, arrValue(nil)
	}

	nodes := zs.Zquery(minScore, args[3], offset, limit)
	out := make([]Value, 0, len(nodes)*2)
	for _, n := range nodes {
		out = append(out, strValue(append([]byte(nil), n.name...)), dblValue(n.score))
	}
	return StatusOK, arrValue(out)
}

func cmdZsize(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	zs, present, ok := withExistingZSet(ks, args[1])
	if !ok {
		return StatusErrBadType, nilValue()
	}
	if !present {
		return StatusOK, intValue(0)
	}
	return StatusOK, intValue(int64(zs.Size()))
}

func cmdType(ks *Keyspace, args [][]byte) (uint32, Value) {
	if !arityOK(args, 2) {
		return StatusErrBadArg, nilValue()
	}
	e := ks.Get(args[1])
	if e == nil {
		return StatusOK, nilValue()
	}
	if e.kind == entryZSet {
		return StatusOK, strValue([]byte("zset"))
	}
	return StatusOK, strValue([]byte("bytes"))
}

func cmdPing(args [][]byte) (uint32, Value) {
	if !arityOK(args, 1) {
		return StatusErrBadArg, nilValue()
	}
	return StatusOK, strValue([]byte("PONG"))
}
