// internal/zookeeper/election.go
package zookeeper

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const candidatePrefix = "candidate-"

// Election 用临时顺序节点选出唯一的领导者。
// 序号最小的候选人是领导者，其余候选人只监听自己的前一个节点，避免羊群效应。
type Election struct {
	conn *Conn
	path string
	id   string
	node string
}

// NewElection 的 id 写入候选节点，方便排查当前领导者是谁
func NewElection(conn *Conn, path, id string) *Election {
	return &Election{conn: conn, path: strings.TrimSuffix(path, "/"), id: id}
}

// Campaign 阻塞直到成为领导者，或 ctx 被取消
func (e *Election) Campaign(ctx context.Context) error {
	if err := e.conn.ensurePath(e.path); err != nil {
		return err
	}
	node, err := e.conn.CreateProtectedEphemeralSequential(e.path+"/"+candidatePrefix, []byte(e.id), zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create election node")
	}
	e.node = node
	self := strings.TrimPrefix(node, e.path+"/")

	for {
		children, _, err := e.conn.Children(e.path)
		if err != nil {
			return errors.Wrap(err, "list election candidates")
		}
		prev, leader, err := predecessor(children, self)
		if err != nil {
			return err
		}
		if leader {
			log.Info().Str("node", self).Str("id", e.id).Msg("elected as leader")
			return nil
		}

		exists, _, watch, err := e.conn.ExistsW(e.path + "/" + prev)
		if err != nil {
			return errors.Wrap(err, "watch previous candidate")
		}
		if !exists {
			continue
		}
		log.Info().Str("node", self).Str("waiting_for", prev).Msg("standing by for leadership")

		select {
		case <-ctx.Done():
			_ = e.Resign()
			return ctx.Err()
		case <-e.conn.Expired():
			return errors.New("zookeeper session expired during election")
		case <-watch:
		}
	}
}

// Resign 删除自己的候选节点
func (e *Election) Resign() error {
	if e.node == "" {
		return nil
	}
	err := e.conn.Delete(e.node, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete election node")
	}
	e.node = ""
	return nil
}

// predecessor 按序号排序候选节点，返回 self 前面的节点；self 最小时 leader 为 true。
// 受保护节点名带有 GUID 前缀，只能按结尾的序号比较。
func predecessor(children []string, self string) (prev string, leader bool, err error) {
	mine, ok := sequence(self)
	if !ok {
		return "", false, errors.Errorf("invalid election node %s", self)
	}
	found := false
	var best int64 = -1
	for _, child := range children {
		seq, ok := sequence(child)
		if !ok {
			continue
		}
		if child == self {
			found = true
			continue
		}
		if seq < mine && seq > best {
			best, prev = seq, child
		}
	}
	if !found {
		return "", false, errors.Errorf("election node %s disappeared", self)
	}
	return prev, best < 0, nil
}

func sequence(node string) (int64, bool) {
	i := strings.LastIndex(node, candidatePrefix)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(node[i+len(candidatePrefix):], 10, 64)
	return n, err == nil
}
