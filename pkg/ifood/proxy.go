package ifood

import (
	"fmt"
	"net"
	"net/url"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
	"golang.org/x/net/proxy"
)

// proxyDialer 创建支持代理的拨号函数，支持 SOCKS5 和 HTTP 代理
func proxyDialer(proxyURL string) (fasthttp.DialFunc, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		return func(addr string) (net.Conn, error) {
			return dialer.Dial("tcp", addr)
		}, nil
	case "http", "https":
		// fasthttpproxy 需要 user:pass@host:port 形式
		addr := parsed.Host
		if parsed.User != nil {
			addr = parsed.User.String() + "@" + addr
		}
		return fasthttpproxy.FasthttpHTTPDialer(addr), nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
}
