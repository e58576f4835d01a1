// Package security は外部ソースへのアウトバウンド通信と取得コンテンツの安全性を扱う。
package security

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge はレスポンスボディがサイズ上限を超えたことを示す。
var ErrResponseTooLarge = errors.New("レスポンスサイズが上限を超えました")

// Guard はコネクタと本文抽出が使うアウトバウンド通信のインターフェース。
// フィードURLの事前検証と、取得時のHTTPクライアント生成の両方で使用される。
type Guard interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はDNS解決後にブロックされる。
	// レスポンスボディはmaxResponseSizeバイトを超えるとErrResponseTooLargeで読み込みが失敗する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的なURL検証を行い、危険なURLの場合はエラーを返す。
	ValidateURL(rawURL string) error
}

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
// 接続時の検証はsafeurlがDialerのControlフックで行う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル (169.254.169.254 を含む)
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
}

// SSRFGuard はGuardのsafeurl実装。
type SSRFGuard struct {
	userAgent string
}

// NewSSRFGuard はSSRFGuardを生成する。userAgentは全リクエストのUser-Agentヘッダーに使用する。
func NewSSRFGuard(userAgent string) *SSRFGuard {
	return &SSRFGuard{userAgent: userAgent}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(config).Client
	client.Transport = WrapTransport(client.Transport, g.userAgent, maxResponseSize)
	return client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS再バインディングはNewSafeClientのDialer検証で防止される。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの形式が不正です: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("許可されていないスキームです: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URLにホストがありません: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("ブロック対象のIPアドレスです: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("ブロック対象のホストです: %s", host)
	}
	return nil
}

// WrapTransport はUser-Agentの付与とレスポンスサイズの上限をrtに追加する。
// rtがnilの場合はhttp.DefaultTransportを使用する。maxResponseSizeが0以下の場合は上限を設けない。
func WrapTransport(rt http.RoundTripper, userAgent string, maxResponseSize int64) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &guardedTransport{base: rt, userAgent: userAgent, maxSize: maxResponseSize}
}

type guardedTransport struct {
	base      http.RoundTripper
	userAgent string
	maxSize   int64
}

func (t *guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.maxSize > 0 && resp.Body != nil {
		if resp.ContentLength > t.maxSize {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: Content-Length %d > %d", ErrResponseTooLarge, resp.ContentLength, t.maxSize)
		}
		resp.Body = &limitedBody{rc: resp.Body, remaining: t.maxSize}
	}
	return resp, nil
}

// limitedBody は上限を超えて読み込もうとした時点でErrResponseTooLargeを返す。
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	// 上限ちょうどで終わるボディと超過を区別するため、1バイト余分に読む
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n + int(b.remaining), ErrResponseTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
