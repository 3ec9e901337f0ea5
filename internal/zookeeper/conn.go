// internal/zookeeper/conn.go
package zookeeper

import (
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Conn 包装 zk.Conn，并在会话过期时关闭 Expired() 通道。
// 会话过期意味着临时节点已经被删除，持有的领导权随之失效。
type Conn struct {
	*zk.Conn
	expired chan struct{}
	closed  chan struct{}
	once    sync.Once
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	log.Debug().Str("component", "zookeeper").Msgf(format, args...)
}

// Connect 连接 ZooKeeper 集群
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("no zookeeper servers configured")
	}
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, errors.Wrap(err, "connect to zookeeper")
	}
	c := &Conn{Conn: conn, expired: make(chan struct{}), closed: make(chan struct{})}
	go c.watch(events)
	return c, nil
}

func (c *Conn) watch(events <-chan zk.Event) {
	for {
		select {
		case <-c.closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Debug().Str("state", ev.State.String()).Msg("zookeeper session event")
			if ev.State == zk.StateExpired {
				log.Error().Msg("zookeeper session expired")
				close(c.expired)
				return
			}
		}
	}
}

// Expired 在会话过期时关闭
func (c *Conn) Expired() <-chan struct{} {
	return c.expired
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.Conn.Close()
	})
}

// ensurePath 逐级创建持久节点，已存在的节点忽略
func (c *Conn) ensurePath(path string) error {
	for i := 1; i <= len(path); i++ {
		if i != len(path) && path[i] != '/' {
			continue
		}
		_, err := c.Create(path[:i], nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "create zookeeper node %s", path[:i])
		}
	}
	return nil
}
