package ratelimit

import "strconv"

func formatInt(v int) string { return strconv.Itoa(v) }
