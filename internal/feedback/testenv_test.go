package feedback

import (
	"os"
	"testing"
)

func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("ORATO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORATO_TEST_REDIS_ADDR not set, skipping Redis integration tests")
	}
	return addr
}
