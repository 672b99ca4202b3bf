package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

func TestParseDefinitionValid(t *testing.T) {
	t.Parallel()

	doc := `
name: demo
agent: any
environment:
  GREETING: hello
stages:
  - name: Build
    steps:
      - step: sh
        with:
          command: make build
  - name: Report
    steps:
      - step: echo
        with:
          message: done
    post:
      always:
        - step: echo
          with:
            message: cleanup
`
	def, err := ParseDefinition("demo.yaml", []byte(doc))
	require.NoError(t, err)
	require.Equal(t, "demo", def.Name)
	require.Len(t, def.Stages, 2)
	require.Equal(t, "sh", def.Stages[0].Steps[0].Step)
	require.Equal(t, "make build", def.Stages[0].Steps[0].With["command"])
	require.Len(t, def.Stages[1].Post.Always, 1)
}

func TestParseDefinitionMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseDefinition("broken.yaml", []byte("name: [unclosed"))
	require.Error(t, err)

	var parseErr *conveyorerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "broken.yaml", parseErr.Path)
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing stages",
			doc:  "name: empty\n",
			want: "validation error",
		},
		{
			name: "duplicate stage names",
			doc: `
name: dup
stages:
  - name: Build
    steps: [{step: echo, with: {message: a}}]
  - name: Build
    steps: [{step: echo, with: {message: b}}]
`,
			want: "duplicate stage name",
		},
		{
			name: "stage with steps and branches",
			doc: `
name: both
stages:
  - name: Mixed
    steps: [{step: echo, with: {message: a}}]
    branches:
      - name: x
        steps: [{step: echo, with: {message: b}}]
      - name: y
        steps: [{step: echo, with: {message: c}}]
`,
			want: "declares both",
		},
		{
			name: "stage with no work",
			doc: `
name: idle
stages:
  - name: Idle
`,
			want: "has no work",
		},
		{
			name: "duplicate branch names",
			doc: `
name: dupbranch
stages:
  - name: Fanout
    branches:
      - name: same
        steps: [{step: echo, with: {message: a}}]
      - name: same
        steps: [{step: echo, with: {message: b}}]
`,
			want: "duplicate branch name",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDefinition(tc.name+".yaml", []byte(tc.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBindingFromDef(t *testing.T) {
	t.Parallel()

	binding, err := bindingFromDef(BindingDef{Type: "userPassword", ID: "reg", UserVar: "U", PassVar: "P"})
	require.NoError(t, err)
	require.Equal(t, "reg", binding.CredentialID())

	_, err = bindingFromDef(BindingDef{Type: "userPassword", ID: "reg", UserVar: "U"})
	require.Error(t, err)

	_, err = bindingFromDef(BindingDef{Type: "vault", ID: "x"})
	require.Error(t, err)
}
