package partners_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/apperr"
	"leadflow/internal/partners"
	"leadflow/internal/testsupport"
)

// fixedIntn replays the given indices into the code alphabet, cycling.
func fixedIntn(indices ...int) func(int) int {
	i := 0
	return func(int) int {
		v := indices[i%len(indices)]
		i++
		return v
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Jane Doe", "JANEDOE"},
		{"José Álvarez", "JOSEALVA"},
		{"O'Brien & Sons Catering", "OBRIENSO"},
		{"  ", ""},
		{"株式会社", ""},
		{"Studio 54", "STUDIO54"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, partners.Stem(tt.name))
		})
	}
}

func TestGenerateCode(t *testing.T) {
	gen := partners.NewGenerator("twbfl", 5)
	assert.Equal(t, "TWBFL", gen.Prefix)

	t.Run("matches the code pattern", func(t *testing.T) {
		for _, name := range []string{"Jane Doe", "Bartholomew Wainwright", "A", "", "株式会社"} {
			code := gen.GenerateCode(name)
			assert.Regexp(t, `^TWBFL-[A-Z0-9]{4,10}$`, code, name)
			assert.NoError(t, gen.ValidateCode(code))
		}
	})

	t.Run("uses the stem and a random suffix", func(t *testing.T) {
		g := partners.NewGenerator("TWBFL", 5)
		g.Intn = fixedIntn(0, 1, 26)
		assert.Equal(t, "TWBFL-JANEDOEAB0", g.GenerateCode("Jane Doe"))
	})

	t.Run("clips long stems", func(t *testing.T) {
		g := partners.NewGenerator("TWBFL", 5)
		g.Intn = fixedIntn(25)
		assert.Equal(t, "TWBFL-BARTHOLZZZ", g.GenerateCode("Bartholomew"))
	})

	t.Run("falls back when the name has no usable characters", func(t *testing.T) {
		g := partners.NewGenerator("TWBFL", 5)
		g.Intn = fixedIntn(2)
		assert.Equal(t, "TWBFL-REFCCC", g.GenerateCode("!!!"))
	})
}

func TestValidateCode(t *testing.T) {
	gen := partners.NewGenerator("TWBFL", 5)
	assert.NoError(t, gen.ValidateCode("TWBFL-ABCD"))
	assert.NoError(t, gen.ValidateCode("TWBFL-ABCDEFGH12"))

	for _, bad := range []string{"TWBFL-ABC", "TWBFL-ABCDEFGH123", "OTHER-ABCDEF", "twbfl-abcdef", "TWBFL-AB CD"} {
		err := gen.ValidateCode(bad)
		assert.True(t, apperr.IsValidation(err), bad)
	}

	assert.Equal(t, "TWBFL-ABCD", partners.NormalizeCode("  twbfl-abcd "))
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	logger := testsupport.GetLogger()

	t.Run("regenerates on collision", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanTables(db, "partners")
		testsupport.CreateTestPartner(t, db, "Existing", "TWBFL-JANEDOEAAA")

		gen := partners.NewGenerator("TWBFL", 5)
		// first attempt draws AAA (taken), second draws BBB
		gen.Intn = fixedIntn(0, 0, 0, 1, 1, 1)

		p, err := partners.Create(ctx, db, logger, gen, partners.CreateInput{
			Name:        "Jane Doe",
			ContactType: partners.ContactTypeInfluencer,
			Email:       "Jane@Example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "TWBFL-JANEDOEBBB", p.Code)
		assert.Equal(t, "jane@example.com", p.Email)
		assert.True(t, p.Active)
		assert.Zero(t, p.TotalLeads)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanTables(db, "partners")
		testsupport.CreateTestPartner(t, db, "Existing", "TWBFL-JANEDOEAAA")

		gen := partners.NewGenerator("TWBFL", 3)
		gen.Intn = fixedIntn(0)

		_, err := partners.Create(ctx, db, logger, gen, partners.CreateInput{
			Name:        "Jane Doe",
			ContactType: partners.ContactTypeAffiliate,
			Email:       "jane2@example.com",
		})
		assert.True(t, errors.Is(err, apperr.ErrCodeGenerationExhausted))
	})

	t.Run("supplied code conflicts instead of regenerating", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanTables(db, "partners")
		testsupport.CreateTestPartner(t, db, "Existing", "TWBFL-TAKEN1")

		_, err := partners.Create(ctx, db, logger, partners.NewGenerator("TWBFL", 3), partners.CreateInput{
			Name:        "Someone",
			ContactType: partners.ContactTypeVendor,
			Email:       "someone@example.com",
			Code:        "twbfl-taken1",
		})
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("supplied code must match the prefix", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		_, err := partners.Create(ctx, db, logger, partners.NewGenerator("TWBFL", 3), partners.CreateInput{
			Name:        "Someone",
			ContactType: partners.ContactTypeVendor,
			Email:       "someone@example.com",
			Code:        "OTHER-ABCDEF",
		})
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("email must be unique", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CleanTables(db, "partners")
		testsupport.CreateTestPartner(t, db, "Dup", "TWBFL-DUP1234")

		_, err := partners.Create(ctx, db, logger, partners.NewGenerator("TWBFL", 3), partners.CreateInput{
			Name:        "Dup Again",
			ContactType: partners.ContactTypeAffiliate,
			Email:       "DUP@example.com",
		})
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("rejects unknown contact types", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		_, err := partners.Create(ctx, db, logger, partners.NewGenerator("TWBFL", 3), partners.CreateInput{
			Name:        "Nobody",
			ContactType: "planner",
			Email:       "nobody@example.com",
		})
		assert.True(t, apperr.IsValidation(err))
	})
}

func TestUpdateLeavesCodeAlone(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	p := testsupport.CreateTestPartner(t, db, "Before", "TWBFL-KEEP123")

	name := "After"
	company := "Rosewood Events"
	updated, err := partners.Update(context.Background(), db, testsupport.GetLogger(), p.ID, partners.UpdateInput{Name: &name, Company: &company})
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Name)
	assert.Equal(t, "Rosewood Events", updated.Company)
	assert.Equal(t, "TWBFL-KEEP123", updated.Code)

	_, err = partners.Update(context.Background(), db, testsupport.GetLogger(), 9999, partners.UpdateInput{Name: &name})
	assert.True(t, apperr.IsNotFound(err))
}

func TestDirectory(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	p := testsupport.CreateTestPartner(t, db, "Listed Partner", "TWBFL-LIST123")
	dir := partners.NewDirectory(dbManager, logger, time.Minute)
	ctx := context.Background()

	ref, err := dir.FindActiveByCode(" twbfl-list123 ")
	require.NoError(t, err)
	assert.Equal(t, p.ID, ref.ID)
	assert.Equal(t, partners.ContactTypeAffiliate, ref.ContactType)

	_, err = dir.FindActiveByCode("TWBFL-MISSING")
	assert.True(t, apperr.IsNotFound(err))

	_, err = dir.FindActiveByCode("")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, dir.Deactivate(ctx, p.ID))
	_, err = dir.FindActiveByCode(p.Code)
	assert.True(t, apperr.IsNotFound(err), "deactivation clears the cached entry")

	stored, err := partners.FindByCode(db, p.Code)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	active, err := partners.CountActive(db)
	require.NoError(t, err)
	assert.Zero(t, active)

	require.NoError(t, dir.Reactivate(ctx, p.ID))
	_, err = dir.FindActiveByCode(p.Code)
	assert.NoError(t, err)

	assert.True(t, apperr.IsNotFound(dir.Deactivate(ctx, 9999)))
}

func TestListAndIsUnique(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestPartner(t, db, "Zed Partner", "TWBFL-ZED1234")
	testsupport.CreateTestPartner(t, db, "Amy Partner", "TWBFL-AMY1234")

	all, err := partners.List(db, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Amy Partner", all[0].Name)

	unique, err := partners.IsUnique(db, "twbfl-amy1234")
	require.NoError(t, err)
	assert.False(t, unique)

	unique, err = partners.IsUnique(db, "TWBFL-NEW1234")
	require.NoError(t, err)
	assert.True(t, unique)
}
