package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muchaco/council/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 服务器配置
type Config struct {
	// 名称，用于日志 (api, metrics)
	Name string
	// 监听地址
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int

	// 同时设置时以 HTTPS 监听
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxHeaderBytes:  1 << 20,
	}
}

func (c Config) tls() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Manager owns one http.Server: listen, serve until the context ends, then
// shut down gracefully within ShutdownTimeout.
type Manager struct {
	server *http.Server
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	srv := &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.With(zap.String("server", config.Name))),
	}
	if config.tls() {
		srv.TLSConfig = tlsutil.ServerConfig()
	}
	return &Manager{
		server: srv,
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", config.Name)),
	}
}

// Listen binds the address. Run calls it when the caller has not.
func (m *Manager) Listen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("server is closed")
	}
	if m.listener != nil {
		return errors.New("server already listening")
	}
	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = ln
	return nil
}

// Run serves until ctx is cancelled or the server fails. A clean shutdown
// returns nil.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	needListen := m.listener == nil
	m.mu.Unlock()
	if needListen {
		if err := m.Listen(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if m.config.tls() {
			m.logger.Info("serving https", zap.String("addr", ln.Addr().String()))
			err = m.server.ServeTLS(ln, m.config.TLSCertFile, m.config.TLSKeyFile)
		} else {
			m.logger.Info("serving http", zap.String("addr", ln.Addr().String()))
			err = m.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			m.logger.Error("server failed", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	if err := m.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown 优雅关闭；重复调用无副作用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	m.logger.Info("shutting down")
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// Addr returns the bound address once listening, else the configured one.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener != nil && !m.closed
}
