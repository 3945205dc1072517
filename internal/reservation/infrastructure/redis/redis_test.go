package redis_test

import (
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"rentlane/internal/testutil/containers"
)

var testClient *goredis.Client

func TestMain(m *testing.M) {
	containers.Main(m, func() (func() error, error) {
		r, err := containers.StartRedis()
		if err != nil {
			return nil, err
		}
		testClient = r.Client
		return r.Close, nil
	})
}
