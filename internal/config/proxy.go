package config

// ProxyConfig holds egress proxy settings for outbound HTTP calls such as
// Telegram notifications and Google Drive uploads. A SOCKS5 proxy takes
// precedence over the HTTP proxies when both are set.
type ProxyConfig struct {
	HTTPProxy   string
	HTTPSProxy  string
	NoProxy     string
	SOCKS5Proxy string
}

// HasProxy reports whether any proxy is configured.
func (p ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

func loadProxyConfig(src source) ProxyConfig {
	return ProxyConfig{
		HTTPProxy:   src.str("HTTP_PROXY", ""),
		HTTPSProxy:  src.str("HTTPS_PROXY", ""),
		NoProxy:     src.str("NO_PROXY", ""),
		SOCKS5Proxy: src.str("SOCKS5_PROXY", ""),
	}
}
