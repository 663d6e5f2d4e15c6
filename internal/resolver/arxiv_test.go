package resolver

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleArxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <link href="http://arxiv.org/abs/2401.00002v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`

func TestArxivFeedPDFLinks(t *testing.T) {
	t.Parallel()

	var feed arxivFeed
	require.NoError(t, xml.Unmarshal([]byte(sampleArxivFeed), &feed))
	require.Len(t, feed.Entries, 2)

	require.Equal(t, "http://arxiv.org/pdf/2401.00001v1", feed.Entries[0].pdfLink())
	require.Empty(t, feed.Entries[1].pdfLink())
}
