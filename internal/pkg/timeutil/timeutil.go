package timeutil

import "time"

func NowUnix() int64 {
	return time.Now().Unix()
}

// NowMilli is used for document timestamps, which also key the content cache.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
