package room

// paletteEntry is one fixed (name, color) pair teams are drawn from.
type paletteEntry struct {
	Name  string
	Color string
}

// defaultPalette is the fixed team palette; CreateTeam picks an unused entry
// uniformly at random and fails silently once exhausted.
var defaultPalette = []paletteEntry{
	{"Red", "#E53935"},
	{"Blue", "#1E88E5"},
	{"Green", "#43A047"},
	{"Yellow", "#FDD835"},
	{"Purple", "#8E24AA"},
	{"Orange", "#FB8C00"},
}

// MaxTeams is the upper bound on team count a room can ever reach.
func MaxTeams() int { return len(defaultPalette) }
