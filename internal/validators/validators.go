package validators

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var roleNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Register 注册自定义校验规则
//
// rolename：角色标识格式，小写字母、数字、下划线。
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
}
