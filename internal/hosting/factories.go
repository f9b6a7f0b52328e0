package hosting

import (
	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/model"
)

// DefaultPasswordLength is the length of generated passwords.
const DefaultPasswordLength = 22

// AddParameter declares a plain parameter read from Parameters:<name>.
func AddParameter(b *Builder, name string) *ResourceBuilder[*model.ParameterResource] {
	return Add(b, model.NewParameter(name, false))
}

// AddSecretParameter declares a secret parameter.
func AddSecretParameter(b *Builder, name string) *ResourceBuilder[*model.ParameterResource] {
	return Add(b, model.NewParameter(name, true))
}

// AddParameterWithDefault declares a parameter that falls back to def when
// no store supplies a value. A generated default is produced once and saved;
// in publish mode it is written as a generate input.
func AddParameterWithDefault(b *Builder, name string, secret bool, def model.ParameterDefault) *ResourceBuilder[*model.ParameterResource] {
	p := model.NewParameter(name, secret)
	p.Default = &def
	return Add(b, p)
}

// AddGeneratedPassword declares a secret parameter with a generated default.
func AddGeneratedPassword(b *Builder, name string) *ResourceBuilder[*model.ParameterResource] {
	return AddParameterWithDefault(b, name, true, model.ParameterDefault{MinLength: DefaultPasswordLength})
}

// AddConnectionString declares an externally supplied connection string,
// read from ConnectionStrings:<name>.
func AddConnectionString(b *Builder, name string) *ResourceBuilder[*model.ParameterResource] {
	p := model.NewParameter(name, true)
	p.ConnectionString = true
	return Add(b, p).WithConnectionString(func() (*expr.ReferenceExpression, error) {
		return expr.New(expr.Ref(p))
	})
}

// AddContainer declares a container running image:tag.
func AddContainer(b *Builder, name, image, tag string) *ResourceBuilder[*model.ContainerResource] {
	return Add(b, model.NewContainer(name)).WithImage(image, tag)
}

// AddExecutable declares a local process.
func AddExecutable(b *Builder, name, command, workingDir string, args ...string) *ResourceBuilder[*model.ExecutableResource] {
	rb := Add(b, model.NewExecutable(name, command, workingDir))
	if len(args) > 0 {
		rb.WithArgs(args...)
	}
	return rb
}
