package solver

import (
	"testing"

	"github.com/paiban/fenban/pkg/allocator/constraint"
	"github.com/paiban/fenban/pkg/model"
)

type studentFixture struct {
	id     string
	sex    model.Sex
	lang   string
	opt    string
	assoc  string
	dissoc string
	fixed  bool
}

func buildStudents(fixtures []studentFixture) []*model.Student {
	out := make([]*model.Student, len(fixtures))
	for i, fx := range fixtures {
		sex := fx.sex
		if sex == "" {
			sex = model.SexMale
		}
		s := model.NewStudent(fx.id, sex, model.Scores{Communication: 2.5, Work: 2.5, Participation: 2.5})
		s.Language = fx.lang
		s.Option = fx.opt
		s.AssocCode = fx.assoc
		s.DissocCode = fx.dissoc
		if fx.fixed {
			s.Mobility = model.MobilityFixed
		}
		out[i] = s
	}
	return out
}

func newContext(t *testing.T, fixtures []studentFixture, classes []model.ClassConfig) *constraint.Context {
	t.Helper()
	ctx, err := constraint.NewContext(buildStudents(fixtures), classes)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	return ctx
}

func classOf(t *testing.T, ctx *constraint.Context, id string) string {
	t.Helper()
	i, ok := ctx.StudentIndex(id)
	if !ok {
		t.Fatalf("unknown student %s", id)
	}
	c, ok := ctx.State.ClassOf(i)
	if !ok {
		return ""
	}
	return ctx.Classes[c].ID
}

// assertQuotaBound 检查每个班级开设的稀缺标签人数不超过配额
func assertQuotaBound(t *testing.T, ctx *constraint.Context) {
	t.Helper()
	for c, cls := range ctx.Classes {
		for _, name := range cls.QuotaTags() {
			tag, _ := ctx.Tags.ID(name)
			if !ctx.Tags.IsScarce(tag) || cls.Quota(name) <= 0 {
				continue
			}
			if n := ctx.State.TagCount(c, tag); n > cls.Quota(name) {
				t.Errorf("班级 %s 标签 %s 人数 %d 超过配额 %d", cls.ID, name, n, cls.Quota(name))
			}
		}
	}
}
