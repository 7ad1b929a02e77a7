package analysis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// 支持的视频容器扩展名
var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

// Upload 待提交的视频文件
//
// 通过 OpenUpload / NewUpload 创建，创建时已完成扩展名、大小和内容嗅探校验。
// 提交成功后由 Client 负责关闭；提交被拒绝时由调用方关闭。
type Upload struct {
	Name        string
	Size        int64
	ContentType string // 内容嗅探得到的类型，如 video/mp4

	body          io.ReadSeeker
	closeFn       func() error
	removeOnClose bool
	once          sync.Once
}

// UploadOption OpenUpload 选项
type UploadOption func(*Upload)

// WithName 指定上传文件名（默认取路径的文件名部分）
func WithName(name string) UploadOption {
	return func(u *Upload) { u.Name = name }
}

// RemoveOnClose 关闭时删除文件（用于临时文件）
func RemoveOnClose() UploadOption {
	return func(u *Upload) { u.removeOnClose = true }
}

// OpenUpload 打开并校验本地视频文件
func OpenUpload(path string, maxBytes int64, opts ...UploadOption) (*Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	u := &Upload{Name: filepath.Base(path), Size: info.Size(), body: f}
	for _, opt := range opts {
		opt(u)
	}
	u.closeFn = func() error {
		err := f.Close()
		if u.removeOnClose {
			if rmErr := os.Remove(path); rmErr != nil && err == nil {
				err = rmErr
			}
		}
		return err
	}

	if info.IsDir() {
		u.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedMedia, path)
	}
	if err := u.validate(maxBytes); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

// NewUpload 从任意可回绕的数据源创建上传；body 实现 io.Closer 时随 Upload 一起关闭
func NewUpload(name string, body io.ReadSeeker, size, maxBytes int64) (*Upload, error) {
	u := &Upload{Name: name, Size: size, body: body}
	if c, ok := body.(io.Closer); ok {
		u.closeFn = c.Close
	}
	if err := u.validate(maxBytes); err != nil {
		return nil, err
	}
	return u, nil
}

// Close 释放文件
func (u *Upload) Close() error {
	var err error
	u.once.Do(func() {
		if u.closeFn != nil {
			err = u.closeFn()
		}
	})
	return err
}

func (u *Upload) validate(maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(u.Name))
	if !videoExtensions[ext] {
		return fmt.Errorf("%w: %q is not a supported video container", ErrUnsupportedMedia, u.Name)
	}
	if u.Size <= 0 {
		return fmt.Errorf("%w: %s is empty", ErrUnsupportedMedia, u.Name)
	}
	if maxBytes > 0 && u.Size > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrUnsupportedMedia, u.Name, u.Size, maxBytes)
	}

	mime, err := mimetype.DetectReader(u.body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", u.Name, err)
	}
	if _, err := u.body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind %s: %w", u.Name, err)
	}
	if !hasTypePrefix(mime, "video/") {
		return fmt.Errorf("%w: %s content is %s", ErrUnsupportedMedia, u.Name, mime.String())
	}
	u.ContentType = mime.String()
	return nil
}

// hasTypePrefix 检查 MIME 类型或其父类型
func hasTypePrefix(m *mimetype.MIME, prefix string) bool {
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), prefix) {
			return true
		}
	}
	return false
}

// progressReader 统计已读取字节数并按百分比回调
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.onProgress(percent)
		}
	}
	return n, err
}
