package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源路径、命中策略与部署版本字段，供拦截请求日志复用。
func RequestFields(path, strategy, version string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"path":      path,
		"strategy":  strategy,
		"version":   version,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 install/activate 等生命周期事件。
func LifecycleFields(action, version string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
	}
}
