// Package proxy 实现拦截器：受管资源交给当前 worker 按缓存策略应答，其余请求透传源站。
package proxy
