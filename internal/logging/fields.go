package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供分类/策略/命中结果字段，供网关请求日志复用。
func RequestFields(category, bucket, strategy, cacheState string) logrus.Fields {
	return logrus.Fields{
		"category": category,
		"bucket":   bucket,
		"strategy": strategy,
		"cache":    cacheState,
	}
}
