package room

// checkNewBingos scans every candidate line in fixed order — rows, then
// columns, then the two diagonals — and returns the lines that are newly
// won by game's claims, recording them in game.WonLines so they are never
// announced twice.
func checkNewBingos(game *ActiveGame, gridSize int) []lineKey {
	var newly []lineKey

	for row := 0; row < gridSize; row++ {
		idx := make([]int, gridSize)
		for col := 0; col < gridSize; col++ {
			idx[col] = row*gridSize + col
		}
		considerLine(game, lineKey{DirectionHorizontal, row}, idx, &newly)
	}

	for col := 0; col < gridSize; col++ {
		idx := make([]int, gridSize)
		for row := 0; row < gridSize; row++ {
			idx[row] = row*gridSize + col
		}
		considerLine(game, lineKey{DirectionVertical, col}, idx, &newly)
	}

	mainDiag := make([]int, gridSize)
	for i := 0; i < gridSize; i++ {
		mainDiag[i] = i*gridSize + i
	}
	considerLine(game, lineKey{DirectionDiagonal, 0}, mainDiag, &newly)

	antiDiag := make([]int, gridSize)
	for i := 0; i < gridSize; i++ {
		antiDiag[i] = i*gridSize + (gridSize - 1 - i)
	}
	considerLine(game, lineKey{DirectionDiagonal, 1}, antiDiag, &newly)

	return newly
}

// considerLine checks whether every cell in idx is claimed by the same
// team, appending the line's key to newly if it just became a bingo.
func considerLine(game *ActiveGame, key lineKey, idx []int, newly *[]lineKey) {
	if game.WonLines[key] {
		return
	}

	team := -1
	for _, i := range idx {
		cell := game.Cells[i]
		if cell.Claim == nil {
			return
		}
		if team == -1 {
			team = cell.Claim.TeamIndex
		} else if cell.Claim.TeamIndex != team {
			return
		}
	}

	game.WonLines[key] = true
	*newly = append(*newly, key)
}

// lineWinningTeam returns the team index that won the line identified by
// key, assuming it has already been recorded as won.
func lineWinningTeam(game *ActiveGame, key lineKey, gridSize int) int {
	switch key.Direction {
	case DirectionHorizontal:
		return game.Cells[key.Index*gridSize].Claim.TeamIndex
	case DirectionVertical:
		return game.Cells[key.Index].Claim.TeamIndex
	default:
		if key.Index == 0 {
			return game.Cells[0].Claim.TeamIndex
		}
		return game.Cells[gridSize-1].Claim.TeamIndex
	}
}
