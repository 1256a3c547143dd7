package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

const unknownSheetName = "未知工作表"

var (
	sheetNamePattern = regexp.MustCompile(`=== 工作表: (.+?) ===`)
	rowHeaderPattern = regexp.MustCompile(`--- 第(\d+)行数据 ---\n`)
)

// parseSheetRows emits one chunk per non-empty data row, labelled with its sheet and row number.
func parseSheetRows(rawText string, imageIDs []string) []Chunk {
	var chunks []Chunk
	for _, sheet := range strings.Split(rawText, "\n\n"+CustomSplitSign+"\n\n") {
		if strings.TrimSpace(sheet) == "" {
			continue
		}

		name := unknownSheetName
		if m := sheetNamePattern.FindStringSubmatch(sheet); m != nil {
			name = m[1]
		}

		headers := rowHeaderPattern.FindAllStringSubmatchIndex(sheet, -1)
		for i, h := range headers {
			end := len(sheet)
			if i+1 < len(headers) {
				end = headers[i+1][0]
			}
			content := strings.TrimSpace(sheet[h[1]:end])
			if content == "" {
				continue
			}
			rowNumber := sheet[h[2]:h[3]]
			chunks = append(chunks, Chunk{
				Q:        fmt.Sprintf("工作表: %s\n第%s行数据:\n%s", name, rowNumber, content),
				ImageIDs: imageIDs,
			})
		}
	}
	return chunks
}
