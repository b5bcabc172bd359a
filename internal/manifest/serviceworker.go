package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// extractScript 在生成脚本末尾追加，作为整段脚本的完成值返回清单数据。
const extractScript = `
;JSON.stringify({
  resources: (typeof RESOURCES === "undefined") ? null : RESOURCES,
  core: (typeof CORE === "undefined") ? [] : CORE
});`

// ParseServiceWorker 在 goja 沙箱中执行构建工具生成的 service worker，
// 读取其中的 RESOURCES 与 CORE 常量。事件监听只做空实现，不会真正执行处理函数。
func ParseServiceWorker(ctx context.Context, src []byte) (Deployment, error) {
	vm := goja.New()
	if err := installWorkerGlobals(vm); err != nil {
		return Deployment{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunString(string(src) + extractScript)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return Deployment{}, fmt.Errorf("evaluate service worker: %w", ctx.Err())
		}
		return Deployment{}, fmt.Errorf("evaluate service worker: %w", err)
	}

	var doc bundle
	if err := json.Unmarshal([]byte(value.String()), &doc); err != nil {
		return Deployment{}, fmt.Errorf("decode service worker manifest: %w", err)
	}
	if doc.Resources == nil {
		return Deployment{}, fmt.Errorf("%w: RESOURCES not declared", ErrInvalidDeployment)
	}
	return NewDeployment("", New(doc.Resources), doc.Core)
}

// installWorkerGlobals 提供生成脚本顶层引用到的 self 对象。
func installWorkerGlobals(vm *goja.Runtime) error {
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }

	location := vm.NewObject()
	if err := location.Set("origin", ""); err != nil {
		return err
	}

	self := vm.NewObject()
	for name, value := range map[string]interface{}{
		"addEventListener": noop,
		"skipWaiting":      noop,
		"location":         location,
	} {
		if err := self.Set(name, value); err != nil {
			return err
		}
	}
	return vm.Set("self", self)
}
