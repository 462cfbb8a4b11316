package kache

import "testing"

func req(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func wantOK(t *testing.T, status uint32) {
	t.Helper()
	if status != StatusOK {
		t.Log("expected StatusOK, got", status)
		t.FailNow()
	}
}

func wantNil(t *testing.T, v Value) {
	t.Helper()
	if v.Tag != tagNil {
		t.Log("expected nil value, got", v)
		t.FailNow()
	}
}

func wantInt(t *testing.T, v Value, want int64) {
	t.Helper()
	if v.Tag != tagInt || v.Int != want {
		t.Log("expected int", want, "got", v)
		t.FailNow()
	}
}

func wantStr(t *testing.T, v Value, want string) {
	t.Helper()
	if v.Tag != tagStr || string(v.Str) != want {
		t.Log("expected str", want, "got", v)
		t.FailNow()
	}
}

// TestBytesLifecycle is §8 scenario 1.
func TestBytesLifecycle(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	status, v := Dispatch(ks, 0, req("SET", "foo", "bar"))
	wantOK(t, status)
	wantNil(t, v)

	status, v = Dispatch(ks, 0, req("GET", "foo"))
	wantOK(t, status)
	wantStr(t, v, "bar")

	status, v = Dispatch(ks, 0, req("DEL", "foo"))
	wantOK(t, status)
	wantInt(t, v, 1)

	status, v = Dispatch(ks, 0, req("GET", "foo"))
	wantOK(t, status)
	wantNil(t, v)

	status, v = Dispatch(ks, 0, req("DEL", "foo"))
	wantOK(t, status)
	wantInt(t, v, 0)
}

// TestTypeGuard is §8 scenario 2.
func TestTypeGuard(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	Dispatch(ks, 0, req("SET", "k", "v"))
	status, _ := Dispatch(ks, 0, req("ZADD", "k", "1.0", "m"))
	if status != StatusErrBadType {
		t.Log("expected ERR_BAD_TYPE for zadd on a string key, got", status)
		t.FailNow()
	}

	Dispatch(ks, 0, req("ZADD", "z", "10", "alice"))
	status, _ = Dispatch(ks, 0, req("GET", "z"))
	if status != StatusErrBadType {
		t.Log("expected ERR_BAD_TYPE for get on a zset key, got", status)
		t.FailNow()
	}
}

// TestTTLScenario is §8 scenario 3.
func TestTTLScenario(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	status, v := Dispatch(ks, 0, req("SET", "k", "v"))
	wantOK(t, status)
	wantNil(t, v)

	status, v = Dispatch(ks, 0, req("EXPIRE", "k", "100"))
	wantOK(t, status)
	wantInt(t, v, 1)

	status, v = Dispatch(ks, 50*1000, req("TTL", "k"))
	wantOK(t, status)
	if v.Tag != tagInt || v.Int < 40 || v.Int > 60 {
		t.Log("expected ttl near 50ms, got", v)
		t.FailNow()
	}

	evicted := ks.ExpireDue(150*1000, 2000)
	if evicted != 1 {
		t.Log("expected key to be expired by t=150ms", evicted)
		t.FailNow()
	}

	status, v = Dispatch(ks, 150*1000, req("GET", "k"))
	wantOK(t, status)
	wantNil(t, v)

	status, v = Dispatch(ks, 150*1000, req("TTL", "k"))
	wantOK(t, status)
	wantInt(t, v, -2)

	status, v = Dispatch(ks, 0, req("PERSIST", "missing"))
	wantOK(t, status)
	wantInt(t, v, 0)
}

// TestZqueryScenario is §8 scenario 4.
func TestZqueryScenario(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)
	members := []struct {
		name  string
		score string
	}{
		{"alice", "100"}, {"bob", "200"}, {"charlie", "150"},
		{"diana", "250"}, {"eve", "180"},
	}
	for _, m := range members {
		status, v := Dispatch(ks, 0, req("ZADD", "z", m.score, m.name))
		wantOK(t, status)
		wantInt(t, v, 1)
	}

	status, v := Dispatch(ks, 0, req("ZQUERY", "z", "150", "charlie", "0", "3"))
	wantOK(t, status)
	if v.Tag != tagArr {
		t.Log("expected array reply")
		t.FailNow()
	}
	wantZqueryArr(t, v, []pair{{"charlie", 150}, {"eve", 180}, {"bob", 200}})

	status, v = Dispatch(ks, 0, req("ZQUERY", "z", "200", "bob", "-1", "2"))
	wantOK(t, status)
	wantZqueryArr(t, v, []pair{{"eve", 180}, {"bob", 200}})
}

type pair struct {
	name  string
	score float64
}

func wantZqueryArr(t *testing.T, v Value, want []pair) {
	t.Helper()
	if len(v.Arr) != len(want)*2 {
		t.Log("length mismatch", len(v.Arr), len(want)*2)
		t.FailNow()
	}
	for i, p := range want {
		nameVal := v.Arr[i*2]
		scoreVal := v.Arr[i*2+1]
		if string(nameVal.Str) != p.name || scoreVal.Dbl != p.score {
			t.Log("mismatch at", i, string(nameVal.Str), scoreVal.Dbl, "want", p)
			t.FailNow()
		}
	}
}

func TestZaddZremZscore(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	status, v := Dispatch(ks, 0, req("ZADD", "z", "5", "m"))
	wantOK(t, status)
	wantInt(t, v, 1)

	status, v = Dispatch(ks, 0, req("ZADD", "z", "7", "m"))
	wantOK(t, status)
	wantInt(t, v, 0)

	status, v = Dispatch(ks, 0, req("ZSCORE", "z", "m"))
	wantOK(t, status)
	if v.Tag != tagDbl || v.Dbl != 7 {
		t.Log("expected score 7", v)
		t.FailNow()
	}

	status, v = Dispatch(ks, 0, req("ZREM", "z", "m"))
	wantOK(t, status)
	wantInt(t, v, 1)

	status, v = Dispatch(ks, 0, req("ZSCORE", "z", "m"))
	wantOK(t, status)
	wantNil(t, v)
}

func TestSupplementedCommands(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	status, v := Dispatch(ks, 0, req("PING"))
	wantOK(t, status)
	wantStr(t, v, "PONG")

	Dispatch(ks, 0, req("SET", "s", "v"))
	Dispatch(ks, 0, req("ZADD", "z", "1", "a"))
	Dispatch(ks, 0, req("ZADD", "z", "2", "b"))

	status, v = Dispatch(ks, 0, req("TYPE", "s"))
	wantOK(t, status)
	wantStr(t, v, "bytes")

	status, v = Dispatch(ks, 0, req("TYPE", "z"))
	wantOK(t, status)
	wantStr(t, v, "zset")

	status, v = Dispatch(ks, 0, req("TYPE", "missing"))
	wantOK(t, status)
	wantNil(t, v)

	status, v = Dispatch(ks, 0, req("ZSIZE", "z"))
	wantOK(t, status)
	wantInt(t, v, 2)

	status, _ = Dispatch(ks, 0, req("ZSIZE", "s"))
	if status != StatusErrBadType {
		t.Log("expected ERR_BAD_TYPE for zsize on string key")
		t.FailNow()
	}
}

func TestUnknownCommandAndBadArity(t *testing.T) {
	ks := NewKeyspace(nil, 0, 0)

	status, _ := Dispatch(ks, 0, req("NOPE"))
	if status != StatusUnknownCmd {
		t.Log("expected UNKNOWN_CMD", status)
		t.FailNow()
	}

	status, _ = Dispatch(ks, 0, req("GET"))
	if status != StatusErrBadArg {
		t.Log("expected ERR_BAD_ARG for missing key", status)
		t.FailNow()
	}

	status, _ = Dispatch(ks, 0, req("EXPIRE", "k", "notanumber"))
	if status != StatusErrBadArg {
		t.Log("expected ERR_BAD_ARG for unparseable ms", status)
		t.FailNow()
	}
}
