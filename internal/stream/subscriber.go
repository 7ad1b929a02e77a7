// Package stream 提供实时数据流订阅
//
// 每个路径（path）对应一个外部推送源：订阅后立即收到当前值，之后每次变化推送一次。
// 断线重连由底层 Transport 负责；Subscriber 只负责：
//   - 同一 Subscriber 下每个 path 至多一个有效订阅
//   - 同一订阅的回调串行执行，顺序与服务端推送顺序一致
//   - Unsubscribe 返回后不再有任何回调（包括已排队的延迟回调）
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadySubscribed 同一 path 重复订阅（需先 Unsubscribe）
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed 句柄已失效或不属于该 Subscriber
	ErrNotSubscribed = errors.New("not subscribed")
)

// SnapshotFunc 快照回调，value 为原始 JSON（路径不存在时为 null）
type SnapshotFunc func(value json.RawMessage)

// ErrorFunc 传输错误回调，err 为 *TransportError
type ErrorFunc func(err error)

// Transport 底层推送传输（Firebase RTDB / MQTT / Redis）
//
// Watch 开始监听 path，返回的 cancel 会停止监听并等待内部投递协程退出。
// 同一 Watch 的 onValue/onError 必须在同一协程内按序调用。
type Transport interface {
	Name() string
	Watch(path string, onValue func(json.RawMessage), onError func(error)) (cancel func(), err error)
}

// TransportError 传输层错误（可恢复）
type TransportError struct {
	Transport string
	Path      string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error on %s: %v", e.Transport, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Handle 订阅句柄
type Handle struct {
	id   uint64
	path string
}

// Path 订阅路径
func (h *Handle) Path() string { return h.path }

type subscription struct {
	handle *Handle

	mu     sync.Mutex
	live   bool
	cancel func()
}

// deliver 在订阅锁内执行回调；订阅失效后直接丢弃
func (s *subscription) deliver(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	fn()
}

// Subscriber 实时数据流订阅管理器
type Subscriber struct {
	transport Transport
	logger    *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	nextID uint64
}

// NewSubscriber 创建订阅管理器
func NewSubscriber(transport Transport, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		transport: transport,
		logger:    logger,
		subs:      make(map[string]*subscription),
	}
}

// Subscribe 订阅 path
//
// 回调中不得对同一句柄调用 Unsubscribe（会死锁）。
func (s *Subscriber) Subscribe(path string, onSnapshot SnapshotFunc, onError ErrorFunc) (*Handle, error) {
	s.mu.Lock()
	if _, exists := s.subs[path]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, path)
	}
	s.nextID++
	sub := &subscription{
		handle: &Handle{id: s.nextID, path: path},
		live:   true,
	}
	s.subs[path] = sub
	s.mu.Unlock()

	transportName := s.transport.Name()
	cancel, err := s.transport.Watch(path,
		func(value json.RawMessage) {
			sub.deliver(func() { onSnapshot(value) })
		},
		func(cause error) {
			sub.deliver(func() {
				onError(&TransportError{Transport: transportName, Path: path, Err: cause})
			})
		},
	)
	if err != nil {
		s.mu.Lock()
		if s.subs[path] == sub {
			delete(s.subs, path)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to watch %s via %s: %w", path, transportName, err)
	}

	sub.mu.Lock()
	stillLive := sub.live
	if stillLive {
		sub.cancel = cancel
	}
	sub.mu.Unlock()

	// Watch 期间已被 Unsubscribe
	if !stillLive {
		cancel()
	}

	s.logger.Info("Subscribed to live stream",
		zap.String("path", path),
		zap.String("transport", transportName),
		zap.Uint64("handle_id", sub.handle.id),
	)

	return sub.handle, nil
}

// Unsubscribe 取消订阅；返回后保证该句柄不再触发任何回调
func (s *Subscriber) Unsubscribe(h *Handle) error {
	if h == nil {
		return ErrNotSubscribed
	}

	s.mu.Lock()
	sub, ok := s.subs[h.path]
	if !ok || sub.handle != h {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, h.path)
	}
	delete(s.subs, h.path)
	s.mu.Unlock()

	// 等待进行中的回调结束，并阻止后续回调
	sub.mu.Lock()
	sub.live = false
	cancel := sub.cancel
	sub.cancel = nil
	sub.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.logger.Info("Unsubscribed from live stream",
		zap.String("path", h.path),
		zap.Uint64("handle_id", h.id),
	)
	return nil
}

// Active path 是否存在有效订阅
func (s *Subscriber) Active(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[path]
	return ok
}

// Close 取消所有订阅
func (s *Subscriber) Close() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.subs))
	for _, sub := range s.subs {
		handles = append(handles, sub.handle)
	}
	s.mu.Unlock()

	for _, h := range handles {
		_ = s.Unsubscribe(h)
	}
}

// normalizePayload 非 JSON 载荷按字符串处理，空载荷视为 null
func normalizePayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(payload) {
		return json.RawMessage(append([]byte(nil), payload...))
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}
