package metrics

import (
	"net/http"

	"github.com/arl/statsviz"
)

// Serve 在指定地址上挂出 statsviz 调试页面
// 访问 http://<addr>/debug/statsviz/
func Serve(addr string) error {
	mux := http.NewServeMux()
	if err := statsviz.Register(mux); err != nil {
		return err
	}
	return http.ListenAndServe(addr, mux)
}
