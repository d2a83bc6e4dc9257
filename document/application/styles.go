package application

import (
	"errors"
	"fmt"
	"os"

	"github.com/beevik/etree"
	"github.com/dfryer1193/odtswap/document/domain"
)

const stylesEntry = "styles.xml"

// styleRewrite is the result of pointing a fill image reference at a new name
type styleRewrite struct {
	outcome   domain.StyleOutcome
	styleName string
	previous  string
}

// rewriteStylesFile updates the first fill image reference in the style
// document at path. The file is only written back when something changed.
func rewriteStylesFile(path string, imageName string) (styleRewrite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return styleRewrite{}, fmt.Errorf("%w: failed to read %s: %w", domain.ErrIO, stylesEntry, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return styleRewrite{}, fmt.Errorf("%w: failed to parse %s: %w", domain.ErrParse, stylesEntry, err)
	}
	if doc.Root() == nil {
		return styleRewrite{}, fmt.Errorf("%w: failed to parse %s: %w", domain.ErrParse, stylesEntry, errors.New("no root element"))
	}

	rewrite := updateFillImage(doc, imageName)
	if rewrite.outcome != domain.StyleUpdated {
		return rewrite, nil
	}

	if err := doc.WriteToFile(path); err != nil {
		return styleRewrite{}, fmt.Errorf("%w: failed to write %s: %w", domain.ErrIO, stylesEntry, err)
	}

	return rewrite, nil
}

// updateFillImage walks office:document-styles/office:styles/style:style in
// document order and sets draw:fill-image-name on the first rule that has one.
func updateFillImage(doc *etree.Document, imageName string) styleRewrite {
	root := doc.Root()
	if root == nil || root.FullTag() != "office:document-styles" {
		return styleRewrite{outcome: domain.StyleSkipped}
	}

	styles := root.SelectElement("office:styles")
	if styles == nil {
		return styleRewrite{outcome: domain.StyleSkipped}
	}

	for _, style := range styles.SelectElements("style:style") {
		props := style.SelectElement("style:graphic-properties")
		if props == nil {
			continue
		}

		previous := props.SelectAttrValue("draw:fill-image-name", "")
		if previous == "" {
			continue
		}

		props.CreateAttr("draw:fill-image-name", imageName)
		return styleRewrite{
			outcome:   domain.StyleUpdated,
			styleName: style.SelectAttrValue("style:name", ""),
			previous:  previous,
		}
	}

	return styleRewrite{outcome: domain.StyleSkipped}
}
