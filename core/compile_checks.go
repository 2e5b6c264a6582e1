package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ConnectionLocker = (*MemoryConnectionLocker)(nil)
	_ OAuthStateStore  = (*MemoryOAuthStateStore)(nil)
	_ MetricsRecorder  = NopMetricsRecorder{}
	_ ConfigProvider   = (*CfgxConfigProvider)(nil)
	_ OptionsResolver  = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
