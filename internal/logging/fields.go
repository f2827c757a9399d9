package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 identifier/source/命中状态字段，供资产请求日志复用。
func RequestFields(identifier, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"identifier": identifier,
		"source":     source,
		"cache_hit":  cacheHit,
	}
}
