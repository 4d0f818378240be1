package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host: "ch", Port: 9000, Database: "fincast", User: "reader", Password: "p@ss",
		DialTimeout: 5 * time.Second, ReadTimeout: 10 * time.Second, MaxExecTime: 30 * time.Second,
	})
	assert.Equal(t, "clickhouse://reader:p%40ss@ch:9000/fincast?dial_timeout=5s&max_execution_time=30&read_timeout=10s", dsn)

	dsn = buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "default", User: "default", UseHTTP: true})
	assert.Equal(t, "http://default:@ch:8123/default", dsn)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)
}
