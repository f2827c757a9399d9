// Package preload keeps up to three prepared media handles (previous/current/
// next) aligned with the feed's playback position. Preparation runs
// asynchronously through a Preparer; completions that arrive after their slot
// was overwritten are discarded by identifier match, so replacing a slot acts
// as soft cancellation of the in-flight work.
package preload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Position 标识窗口内的固定槽位。
type Position string

const (
	PositionPrevious Position = "previous"
	PositionCurrent  Position = "current"
	PositionNext     Position = "next"
)

// ParsePosition 解析外部输入的槽位名。
func ParsePosition(raw string) (Position, bool) {
	switch Position(raw) {
	case PositionPrevious, PositionCurrent, PositionNext:
		return Position(raw), true
	default:
		return "", false
	}
}

// State 描述单个槽位的生命周期：empty → preparing → ready|failed。
type State string

const (
	StatePreparing State = "preparing"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// Item 指定一个待准备的远端资产。
type Item struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

// Handle 是准备完成后的可播放引用；LocalPath 仍归 ContentCache 所有，
// 窗口只持有引用，清理策略可能随时让它失效。
type Handle struct {
	Identifier string `json:"identifier"`
	LocalPath  string `json:"local_path"`
}

// Preparer 把一个 Item 准备为可播放句柄，通常由 CachePreparer 实现。
type Preparer interface {
	Prepare(ctx context.Context, item Item) (Handle, error)
}

// PreparerFunc adapts a function to the Preparer interface.
type PreparerFunc func(ctx context.Context, item Item) (Handle, error)

// Prepare makes PreparerFunc satisfy Preparer.
func (f PreparerFunc) Prepare(ctx context.Context, item Item) (Handle, error) {
	return f(ctx, item)
}

// Slot 是槽位的只读快照，供诊断接口输出。
type Slot struct {
	Position   Position
	Identifier string
	State      State
	Handle     Handle
	Err        error
	LoadedAt   time.Time
}

type slot struct {
	identifier string
	state      State
	handle     Handle
	err        error
	loadedAt   time.Time
}

// Request 描述一次窗口推进；Current 必填，Previous/Next 缺省表示该槽位清空。
type Request struct {
	Previous *Item
	Current  *Item
	Next     *Item
}

// Window 持有三个槽位及其准备任务。SetWindow 调用由上层按 feed 推进事件
// 串行触发，槽位自身的读写由内部互斥锁保护。
type Window struct {
	preparer Preparer
	logger   *logrus.Logger

	mu    sync.Mutex
	slots map[Position]*slot
}

// NewWindow 创建空窗口；preparer 不能为空。
func NewWindow(preparer Preparer, logger *logrus.Logger) (*Window, error) {
	if preparer == nil {
		return nil, errors.New("preparer is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Window{
		preparer: preparer,
		logger:   logger,
		slots:    make(map[Position]*slot, 3),
	}, nil
}

// SetWindow 用新的三元组替换槽位。identifier 未变且未失败的槽位保持原状；
// 变更的槽位进入 preparing 并启动异步准备；不再被引用的槽位直接移除
// （句柄释放，缓存文件仍由 ContentCache 的清理策略管理）。
func (w *Window) SetWindow(ctx context.Context, req Request) error {
	if req.Current == nil {
		return errors.New("current item is required")
	}

	// 准备任务可能比触发它的请求活得更久，挂到不随请求取消的 context 上。
	prepCtx := context.WithoutCancel(ctx)

	assignments := []struct {
		position Position
		item     *Item
	}{
		{PositionPrevious, req.Previous},
		{PositionCurrent, req.Current},
		{PositionNext, req.Next},
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, assign := range assignments {
		if assign.item == nil {
			delete(w.slots, assign.position)
			continue
		}
		if assign.item.Identifier == "" {
			return errors.New("item identifier is required")
		}

		existing := w.slots[assign.position]
		if existing != nil && existing.identifier == assign.item.Identifier && existing.state != StateFailed {
			continue
		}

		w.slots[assign.position] = &slot{
			identifier: assign.item.Identifier,
			state:      StatePreparing,
			loadedAt:   time.Now(),
		}
		go w.prepare(prepCtx, assign.position, *assign.item)
	}

	return nil
}

// ReadySlot 返回槽位的可播放句柄；仅在准备完成时命中，绝不触发任何工作。
func (w *Window) ReadySlot(position Position) (Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.slots[position]
	if s == nil || s.state != StateReady {
		return Handle{}, false
	}
	return s.handle, true
}

// SlotInfo 返回槽位快照，供 /-/window 诊断输出。
func (w *Window) SlotInfo(position Position) (Slot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.slots[position]
	if s == nil {
		return Slot{}, false
	}
	return Slot{
		Position:   position,
		Identifier: s.identifier,
		State:      s.state,
		Handle:     s.handle,
		Err:        s.err,
		LoadedAt:   s.loadedAt,
	}, true
}

func (w *Window) prepare(ctx context.Context, position Position, item Item) {
	handle, err := w.preparer.Prepare(ctx, item)
	if err != nil {
		w.markFailed(position, item.Identifier, err)
		return
	}
	w.markReady(position, item.Identifier, handle)
}

// markReady 仅在槽位仍然属于同一 identifier 时生效，过期完成直接丢弃。
func (w *Window) markReady(position Position, identifier string, handle Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.slots[position]
	if s == nil || s.identifier != identifier {
		w.logger.WithFields(logrus.Fields{
			"action":     "preload_stale",
			"position":   string(position),
			"identifier": identifier,
		}).Debug("stale preparation discarded")
		return
	}

	s.state = StateReady
	s.handle = handle
	s.err = nil
	s.loadedAt = time.Now()
}

func (w *Window) markFailed(position Position, identifier string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.slots[position]
	if s == nil || s.identifier != identifier {
		return
	}

	s.state = StateFailed
	s.err = err

	w.logger.WithFields(logrus.Fields{
		"action":     "preload_failed",
		"position":   string(position),
		"identifier": identifier,
	}).Warn(err.Error())
}
